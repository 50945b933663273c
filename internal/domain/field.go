package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldKind is the closed set of parameter types a workapp can declare.
type FieldKind string

const (
	FieldString  FieldKind = "STRING"
	FieldInt     FieldKind = "INT"
	FieldFloat   FieldKind = "FLOAT"
	FieldBoolean FieldKind = "BOOLEAN"
	FieldSwitch  FieldKind = "SWITCH"
	FieldList    FieldKind = "LIST"
	FieldImage   FieldKind = "IMAGE"
	FieldVideo   FieldKind = "VIDEO"
	FieldAudio   FieldKind = "AUDIO"
)

type WidgetType string

const (
	WidgetTextArea WidgetType = "textarea"
	WidgetStepper  WidgetType = "stepper"
	WidgetToggle   WidgetType = "toggle"
	WidgetSelect   WidgetType = "select"
	WidgetFile     WidgetType = "file"
	WidgetNone     WidgetType = "none"
)

func (k FieldKind) Known() bool {
	switch k {
	case FieldString, FieldInt, FieldFloat, FieldBoolean, FieldSwitch, FieldList, FieldImage, FieldVideo, FieldAudio:
		return true
	}
	return false
}

func (k FieldKind) Widget() WidgetType {
	switch k {
	case FieldString:
		return WidgetTextArea
	case FieldInt, FieldFloat:
		return WidgetStepper
	case FieldBoolean:
		return WidgetToggle
	case FieldSwitch, FieldList:
		return WidgetSelect
	case FieldImage, FieldVideo, FieldAudio:
		return WidgetFile
	}
	return WidgetNone
}

func (k FieldKind) IsFile() bool {
	return k.Widget() == WidgetFile
}

// Step is the stepper increment for numeric kinds.
func (k FieldKind) Step() string {
	switch k {
	case FieldInt:
		return "1"
	case FieldFloat:
		return "0.01"
	}
	return ""
}

// Accept is the MIME pattern a file picker offers.
func (k FieldKind) Accept() string {
	switch k {
	case FieldImage:
		return "image/*"
	case FieldVideo:
		return "video/*"
	case FieldAudio:
		return "audio/*"
	}
	return ""
}

// AcceptsMIME checks a concrete MIME type against the kind.
func (k FieldKind) AcceptsMIME(mime string) bool {
	mime = strings.ToLower(mime)
	switch k {
	case FieldImage:
		return strings.HasPrefix(mime, "image/")
	case FieldVideo:
		return strings.HasPrefix(mime, "video/")
	case FieldAudio:
		return strings.HasPrefix(mime, "audio/")
	}
	return false
}

// UploadFolder is the inputs/ sub-directory for uploaded files of this kind.
func (k FieldKind) UploadFolder() string {
	switch k {
	case FieldImage:
		return "images"
	case FieldVideo:
		return "videos"
	case FieldAudio:
		return "audios"
	}
	return "others"
}

// Field is one node parameter of a workapp schema.
type Field struct {
	NodeID      string    `json:"nodeId" yaml:"nodeId"`
	FieldName   string    `json:"fieldName" yaml:"fieldName"`
	FieldType   FieldKind `json:"fieldType" yaml:"fieldType"`
	FieldValue  string    `json:"fieldValue" yaml:"fieldValue"`
	FieldData   string    `json:"fieldData,omitempty" yaml:"fieldData,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// Label is the human readable caption of the field.
func (f Field) Label() string {
	if f.Description != "" {
		return f.Description
	}
	return f.FieldName
}

// UnmarshalJSON accepts values the backend sends as numbers or booleans.
func (f *Field) UnmarshalJSON(data []byte) error {
	var raw struct {
		NodeID      json.RawMessage `json:"nodeId"`
		FieldName   string          `json:"fieldName"`
		FieldType   string          `json:"fieldType"`
		FieldValue  json.RawMessage `json:"fieldValue"`
		FieldData   json.RawMessage `json:"fieldData"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.NodeID = looseString(raw.NodeID)
	f.FieldName = raw.FieldName
	f.FieldType = FieldKind(strings.ToUpper(raw.FieldType))
	f.FieldValue = looseString(raw.FieldValue)
	f.FieldData = looseString(raw.FieldData)
	f.Description = raw.Description
	return nil
}

// looseString turns a JSON scalar into its string form; arrays and objects
// are kept as their JSON text.
func looseString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// SelectOption is one entry of a SWITCH/LIST field.
type SelectOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// ParseOptions decodes fieldData into select options. A nested array is
// flattened one level; object options use index (else name) as the value.
func ParseOptions(fieldData string) ([]SelectOption, error) {
	if strings.TrimSpace(fieldData) == "" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(fieldData), &items); err != nil {
		return nil, fmt.Errorf("field data is not a list: %w", err)
	}
	if len(items) > 0 {
		var nested []json.RawMessage
		if err := json.Unmarshal(items[0], &nested); err == nil {
			items = nested
		}
	}

	opts := make([]SelectOption, 0, len(items))
	for _, item := range items {
		var obj struct {
			Index       json.RawMessage `json:"index"`
			Name        string          `json:"name"`
			Description string          `json:"description"`
		}
		if err := json.Unmarshal(item, &obj); err == nil && (obj.Name != "" || len(obj.Index) > 0) {
			value := looseString(obj.Index)
			if value == "" {
				value = obj.Name
			}
			label := obj.Description
			if label == "" {
				label = obj.Name
			}
			opts = append(opts, SelectOption{Value: value, Label: label})
			continue
		}
		v := looseString(item)
		opts = append(opts, SelectOption{Value: v, Label: v})
	}
	return opts, nil
}

// CloneFields copies a schema so edits never leak into saved templates.
func CloneFields(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	return append([]Field(nil), fields...)
}
