package domain

import (
	"fmt"
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskStatusPendingStart TaskStatus = "PENDING_START" // held locally, not yet sent
	TaskStatusQueued       TaskStatus = "QUEUED"
	TaskStatusRunning      TaskStatus = "RUNNING"
	TaskStatusSuccess      TaskStatus = "SUCCESS"
	TaskStatusFailed       TaskStatus = "FAILED"
)

// IsActive reports whether the status occupies a concurrency slot.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusRunning || s == TaskStatusQueued
}

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailed
}

// ParseTaskStatus normalises a status string reported by the backend.
// Unknown values are returned as-is so that they are stored verbatim.
func ParseTaskStatus(raw string) TaskStatus {
	s := TaskStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case TaskStatusPendingStart, TaskStatusQueued, TaskStatusRunning, TaskStatusSuccess, TaskStatusFailed:
		return s
	}
	return TaskStatus(raw)
}

// ProvisionalIDPrefix marks ids that the backend has never seen.
const ProvisionalIDPrefix = "temp_"

func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalIDPrefix)
}

// NodeValue is one entry of the nodeInfoList sent with a run request.
type NodeValue struct {
	NodeID     string `json:"nodeId"`
	FieldName  string `json:"fieldName"`
	FieldValue string `json:"fieldValue"`
}

type RunPayload struct {
	WebappID     string      `json:"webappId"`
	APIKey       string      `json:"apiKey"`
	NodeInfoList []NodeValue `json:"nodeInfoList"`
	InstanceType string      `json:"instanceType"`
}

// TaskOutput describes one artifact produced by a finished task.
type TaskOutput struct {
	FileURL      string `json:"fileUrl"`
	FileType     string `json:"fileType"`
	TaskCostTime string `json:"taskCostTime,omitempty"`
	NodeID       string `json:"nodeId,omitempty"`
}

// FileName is the last path segment of the output URL.
func (o TaskOutput) FileName() string {
	name := o.FileURL
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	return name
}

// TaskRecord is one tracked run of a workapp. Timestamps are unix millis.
type TaskRecord struct {
	TaskID    string       `json:"taskId"`
	Name      string       `json:"name"`
	Status    TaskStatus   `json:"status"`
	StartTime int64        `json:"startTime"`
	EndTime   *int64       `json:"endTime"`
	Outputs   []TaskOutput `json:"outputs"`
	CanvasID  string       `json:"canvasId"`
	Payload   *RunPayload  `json:"payload,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with the queue.
func (t *TaskRecord) Clone() TaskRecord {
	c := *t
	if t.EndTime != nil {
		end := *t.EndTime
		c.EndTime = &end
	}
	if t.Outputs != nil {
		c.Outputs = append([]TaskOutput(nil), t.Outputs...)
	}
	if t.Payload != nil {
		p := *t.Payload
		p.NodeInfoList = append([]NodeValue(nil), t.Payload.NodeInfoList...)
		c.Payload = &p
	}
	return c
}

// ShortID is the display suffix appended once a backend id is known.
func ShortID(id string) string {
	if len(id) >= 4 {
		return id[len(id)-4:]
	}
	return id
}

// TaskView is a task record plus presentation-only derived values.
type TaskView struct {
	TaskRecord
	QueuePosition int    `json:"queuePosition,omitempty"`
	StartedAt     string `json:"startedAt"`
	Elapsed       string `json:"elapsed"`
}

// FormatDateTime renders unix millis as YYYY/MM/DD HH:MM:SS in local time.
func FormatDateTime(ms int64) string {
	if ms == 0 {
		return "--"
	}
	return time.UnixMilli(ms).Format("2006/01/02 15:04:05")
}

// FormatDuration renders a millisecond span as MM:SS.
func FormatDuration(ms int64) string {
	if ms <= 0 {
		return "00:00"
	}
	total := ms / 1000
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
