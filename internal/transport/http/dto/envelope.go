package dto

import (
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/remote"
)

// Envelope is the {code, msg, data} body of the backend-compatible routes.
type Envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data,omitempty"`
}

func OK(data any) Envelope {
	return Envelope{Code: 0, Msg: "success", Data: data}
}

// Fail converts an error into an envelope: backend codes pass through,
// everything else becomes -1.
func Fail(err error) Envelope {
	env := remote.EnvelopeFor(err)
	return Envelope{Code: env.Code, Msg: env.Msg}
}

type SaveResultResponse struct {
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
	LocalPath string `json:"localPath,omitempty"`
	Viewer    string `json:"viewer,omitempty"`
}

type GalleryResponse struct {
	Code  int                  `json:"code"`
	Msg   string               `json:"msg,omitempty"`
	Data  []domain.GalleryFile `json:"data"`
	Count int                  `json:"count"`
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}
