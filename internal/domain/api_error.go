package domain

import "fmt"

// APIError is an application-level failure: the backend answered with a
// non-zero code.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote: code %d: %s", e.Code, e.Msg)
}

// Backend codes that mean the task is already gone.
const (
	CodeTaskNotExist = 807
	CodeNotFound     = 404
)
