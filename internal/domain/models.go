package domain

import (
	"time"
)

// ==================== STATE KEYS ====================

const (
	StateKeyTasks           = "rh_running_tasks_list"
	StateKeyTemplates       = "rh_saved_tasks"
	StateKeyCredentialSets  = "rh_api_presets"
	StateKeyCategoryPresets = "rh_presets_config"
	StateKeyAPIKey          = "rh_api_key"
	StateKeyCeiling         = "rh_concurrency_count"
	StateKeyMigration       = "rh_v2_init"
)

const (
	StateCategoryTasks    = "tasks"
	StateCategoryCatalog  = "catalog"
	StateCategoryAccount  = "account"
	StateCategorySettings = "settings"
)

// ==================== ENTITIES ====================

// StateEntry is one durable key/value pair; Value holds serialized JSON.
type StateEntry struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	Category  string    `gorm:"size:32;index" json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (StateEntry) TableName() string { return "state_entries" }

// Template is a saved, named workapp schema.
type Template struct {
	ID     string  `json:"id" yaml:"id"`
	Name   string  `json:"name" yaml:"name"`
	AppID  string  `json:"appId" yaml:"appId"`
	Fields []Field `json:"nodeInfoList" yaml:"nodeInfoList"`
}

// CredentialPreset bundles an API key with a concurrency ceiling.
type CredentialPreset struct {
	Name      string `json:"name"`
	Key       string `json:"key"`
	TaskCount int    `json:"taskCount"`
	Date      int64  `json:"date"`
}

// MaskedKey hides the middle of the key for display.
func (p CredentialPreset) MaskedKey() string {
	if len(p.Key) < 8 {
		return p.Key
	}
	masked := make([]rune, 0, len(p.Key))
	for i, r := range p.Key {
		if i < 4 || i >= len(p.Key)-4 {
			masked = append(masked, r)
		} else {
			masked = append(masked, '●')
		}
	}
	return string(masked)
}

// CategoryPreset is a shortcut button to a workapp inside a category tab.
type CategoryPreset struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

var Categories = []string{"image", "video", "text", "audio"}

// DefaultCategoryPresets seeds the preset tabs on first use.
func DefaultCategoryPresets() map[string][]CategoryPreset {
	return map[string][]CategoryPreset{
		"image": {
			{Name: "Text to image", ID: "1972171722227118082"},
			{Name: "Cutout", ID: "1972141434415607809"},
			{Name: "Remove watermark", ID: "1971901205893083137"},
			{Name: "Image edit", ID: "1971883472233164802"},
			{Name: "Remove object", ID: "1972175940140855297"},
			{Name: "Outpaint", ID: "1971887893172187137"},
			{Name: "Upscale", ID: "1971882348050640898"},
		},
		"video": {
			{Name: "Text to video", ID: "1984184222476894209"},
			{Name: "Image to video", ID: "1984180029229826049"},
			{Name: "First/last frame", ID: "1984190601447030785"},
			{Name: "Image transition", ID: "1984250791320043522"},
		},
		"text": {
			{Name: "Image caption", ID: "1984225115963539457"},
			{Name: "Polish text", ID: "1984237406851317761"},
			{Name: "Translate", ID: "1984230192287793154"},
		},
		"audio": {
			{Name: "Music", ID: "1984256264186249217"},
			{Name: "Voice clone", ID: "1984213488316858370"},
		},
	}
}

// AccountStatus mirrors the backend account payload.
type AccountStatus struct {
	RemainCoins       FlexString `json:"remainCoins"`
	CurrentTaskCounts FlexString `json:"currentTaskCounts"`
	RemainMoney       FlexString `json:"remainMoney"`
	Currency          FlexString `json:"currency"`
	APIType           FlexString `json:"apiType"`
}

// WebappInfo is the schema returned for a workapp id.
type WebappInfo struct {
	WebappName   string  `json:"webappName"`
	NodeInfoList []Field `json:"nodeInfoList"`
}

// GalleryFile is one locally saved artifact.
type GalleryFile struct {
	Name  string  `json:"name"`
	Path  string  `json:"path"`
	Size  int64   `json:"size"`
	MTime float64 `json:"mtime"`
	Type  string  `json:"type"`
}
