package dto

import (
	"github.com/apphub/backend/internal/domain"
)

type QueueResponse struct {
	Tasks   []domain.TaskView `json:"tasks"`
	Ceiling int               `json:"ceiling"`
	Active  int               `json:"active"`
}

type CeilingResponse struct {
	Ceiling int `json:"ceiling"`
}

type CredentialResponse struct {
	Configured bool                  `json:"configured"`
	MaskedKey  string                `json:"maskedKey,omitempty"`
	Account    *domain.AccountStatus `json:"account,omitempty"`
}

type ImportResponse struct {
	Imported int `json:"imported"`
}
