package dto

import (
	"strings"

	"github.com/apphub/backend/internal/domain"
)

// AccountStatusRequest accepts both spellings the browser has used.
type AccountStatusRequest struct {
	APIKey    string `json:"apikey"`
	APIKeyAlt string `json:"apiKey"`
}

func (r *AccountStatusRequest) Key() string {
	if r.APIKey != "" {
		return r.APIKey
	}
	return r.APIKeyAlt
}

type TaskRequest struct {
	APIKey string            `json:"apiKey"`
	TaskID domain.FlexString `json:"taskId"`
}

type SubmitRequest struct {
	Payload  domain.RunPayload `json:"payload"`
	Name     string            `json:"name"`
	CanvasID string            `json:"canvasId"`
}

func (r *SubmitRequest) Validate() []string {
	var errors []string
	if strings.TrimSpace(r.Payload.WebappID) == "" {
		errors = append(errors, "payload.webappId is required")
	}
	if strings.TrimSpace(r.Payload.APIKey) == "" {
		errors = append(errors, "payload.apiKey is required")
	}
	if r.Payload.InstanceType == "" {
		r.Payload.InstanceType = "default"
	}
	return errors
}

type CeilingRequest struct {
	Ceiling int `json:"ceiling"`
}

type RenderFormRequest struct {
	TemplateID string `json:"templateId"`
	AppID      string `json:"appId"`
	Restore    bool   `json:"restore"`
}

func (r *RenderFormRequest) Validate() []string {
	if r.TemplateID == "" && r.AppID == "" {
		return []string{"either templateId or appId is required"}
	}
	return nil
}

type FieldUpdateRequest struct {
	NodeID    string `json:"nodeId"`
	FieldName string `json:"fieldName"`
	Value     string `json:"value"`
}

type RecordingRequest struct {
	On bool `json:"on"`
}

type CredentialRequest struct {
	APIKey string `json:"apiKey"`
}

type CredentialPresetRequest struct {
	Name      string `json:"name"`
	Key       string `json:"key"`
	TaskCount int    `json:"taskCount"`
}

type CategoryPresetRequest struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type SaveResultRequest struct {
	FileURL  string `json:"fileUrl"`
	FileType string `json:"fileType"`
}

type FileUpdateRequest struct {
	FilePath string  `json:"filePath"`
	Content  *string `json:"content"`
}

type SystemControlRequest struct {
	Action string `json:"action"`
}
