package services

import "errors"

// Queue errors
var (
	ErrTaskNotFound   = errors.New("queue: task not found")
	ErrTaskActive     = errors.New("queue: task is still active, cancel it first")
	ErrCancelFailed   = errors.New("queue: remote cancel failed")
	ErrQueueClosed    = errors.New("queue: closed")
	ErrInvalidCeiling = errors.New("queue: ceiling must be a positive integer")
)

// Form errors
var (
	ErrFormNotFound  = errors.New("form: not rendered")
	ErrFieldNotFound = errors.New("form: field not found")
	ErrFieldNotFile  = errors.New("form: field does not take a file")
	ErrFileMIME      = errors.New("form: file type does not match the field")
	ErrMissingFile   = errors.New("form: every file field needs an attached file")
	ErrInvalidValue  = errors.New("form: value does not fit the field type")
	ErrUnknownSource = errors.New("form: unknown draft source")
	ErrNoHistory     = errors.New("form: no saved parameters for this app")
)

// Run errors
var (
	ErrNoCredential = errors.New("run: no API key configured")
	ErrUploadFailed = errors.New("run: file upload failed")
	ErrInvalidAppID = errors.New("run: workapp id must be numeric")
)

// Catalog errors
var (
	ErrTemplateNotFound  = errors.New("catalog: template not found")
	ErrTemplateInvalid   = errors.New("catalog: template needs a name, app id and fields")
	ErrPresetNotFound    = errors.New("catalog: preset not found")
	ErrPresetInvalid     = errors.New("catalog: preset needs a name and a 32-character API key")
	ErrCategoryUnknown   = errors.New("catalog: unknown category")
	ErrCategoryPresetBad = errors.New("catalog: category preset needs a name and a numeric id")
)

// Result errors
var (
	ErrInvalidPath     = errors.New("result: illegal path")
	ErrMissingParams   = errors.New("result: missing parameters")
	ErrDownloadFailed  = errors.New("result: download failed")
	ErrUnknownCategory = errors.New("result: unknown category")
)

// System errors
var (
	ErrUnknownAction = errors.New("system: unknown action")
)

// Encryption errors
var (
	ErrEncryptionFailed = errors.New("encryption: failed to encrypt data")
	ErrDecryptionFailed = errors.New("encryption: failed to decrypt data")
)
