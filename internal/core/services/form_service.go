package services

import (
	"strconv"
	"strings"
	"sync"

	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/logger"
)

// FormSource is the page a form lives on. Each source has exactly one
// active form at a time.
type FormSource string

const (
	SourceNew    FormSource = "new"
	SourcePreset FormSource = "preset"
)

func ParseFormSource(s string) (FormSource, error) {
	switch FormSource(s) {
	case SourceNew, SourcePreset:
		return FormSource(s), nil
	}
	return "", ErrUnknownSource
}

// Attachment is a file picked for a file field. It lives in memory only.
type Attachment struct {
	Name string
	MIME string
	Data []byte
}

// FileMeta is the serializable part of an attachment.
type FileMeta struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Size int    `json:"size"`
}

func (a *Attachment) Meta() *FileMeta {
	if a == nil {
		return nil
	}
	return &FileMeta{Name: a.Name, MIME: a.MIME, Size: len(a.Data)}
}

// Widget is one rendered input control.
type Widget struct {
	NodeID    string                `json:"nodeId"`
	FieldName string                `json:"fieldName"`
	Label     string                `json:"label"`
	Kind      domain.FieldKind      `json:"kind"`
	Widget    domain.WidgetType     `json:"widget"`
	Value     string                `json:"value"`
	Step      string                `json:"step,omitempty"`
	Accept    string                `json:"accept,omitempty"`
	Options   []domain.SelectOption `json:"options,omitempty"`
	File      *FileMeta             `json:"file,omitempty"`
}

// Form is the rendered view of the active form of one source.
type Form struct {
	Source     FormSource `json:"source"`
	Key        string     `json:"key"`
	AppID      string     `json:"appId"`
	Widgets    []Widget   `json:"widgets"`
	HasHistory bool       `json:"hasHistory"`
	Recording  bool       `json:"recording"`
}

// Submission is what the run service needs from a validated form.
type Submission struct {
	Source FormSource
	Key    string
	AppID  string
	Fields []domain.Field
	Files  map[string]*Attachment
}

type activeForm struct {
	key    string
	appID  string
	fields []domain.Field
	files  map[string]*Attachment
}

type draft struct {
	fields []domain.Field
	files  map[string]*Attachment
}

// FormService renders workapp schemas into widgets and keeps the
// per-app parameter and file caches plus the per-source drafts.
type FormService struct {
	logger *logger.Logger

	mu         sync.Mutex
	active     map[FormSource]*activeForm
	paramCache map[string]map[string]string
	fileCache  map[string]map[string]*Attachment
	drafts     map[FormSource]map[string]draft
	recording  map[FormSource]bool
}

func NewFormService(logger *logger.Logger) *FormService {
	return &FormService{
		logger:     logger,
		active:     make(map[FormSource]*activeForm),
		paramCache: make(map[string]map[string]string),
		fileCache:  make(map[string]map[string]*Attachment),
		drafts: map[FormSource]map[string]draft{
			SourceNew:    {},
			SourcePreset: {},
		},
		recording: make(map[FormSource]bool),
	}
}

// fieldKey identifies a field inside one app. A node can expose several
// fields, so the node id alone is not enough.
func fieldKey(nodeID, fieldName string) string {
	return nodeID + "/" + fieldName
}

// Render makes fields the active form of source. key identifies the draft
// slot (template id for new tasks, app id for presets). With restore set
// the cached parameters and files of appID are applied first.
func (s *FormService) Render(source FormSource, key, appID string, fields []domain.Field, restore bool) (*Form, error) {
	if _, err := ParseFormSource(string(source)); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.active[source]; prev != nil && s.recording[source] {
		s.saveDraftLocked(source, prev)
	}

	form := &activeForm{
		key:    key,
		appID:  appID,
		fields: domain.CloneFields(fields),
		files:  make(map[string]*Attachment),
	}

	if d, ok := s.drafts[source][key]; ok && s.recording[source] {
		applyValues(form.fields, d.fields)
		for k, a := range d.files {
			form.files[k] = a
		}
		s.logger.Debugw("form_draft_restored", "source", source, "key", key)
	}
	if restore {
		for i := range form.fields {
			f := &form.fields[i]
			if v, ok := s.paramCache[appID][fieldKey(f.NodeID, f.FieldName)]; ok {
				f.FieldValue = v
			}
		}
		for k, a := range s.fileCache[appID] {
			form.files[k] = a
		}
	}

	// selects with no value take their first option
	for i := range form.fields {
		f := &form.fields[i]
		if f.FieldType.Widget() != domain.WidgetSelect || f.FieldValue != "" {
			continue
		}
		opts, err := domain.ParseOptions(f.FieldData)
		if err != nil {
			s.logger.Warnw("form_options_invalid", "app_id", appID, "node_id", f.NodeID, "error", err)
			continue
		}
		if len(opts) > 0 {
			s.setValueLocked(form, f, opts[0].Value)
		}
	}

	s.active[source] = form
	return s.viewLocked(source, form), nil
}

// Current returns the active form of source.
func (s *FormService) Current(source FormSource) (*Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	form := s.active[source]
	if form == nil {
		return nil, ErrFormNotFound
	}
	return s.viewLocked(source, form), nil
}

// Update writes a new value for a non-file field.
func (s *FormService) Update(source FormSource, nodeID, fieldName, value string) (*Widget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	form, f, err := s.fieldLocked(source, nodeID, fieldName)
	if err != nil {
		return nil, err
	}
	if f.FieldType.IsFile() {
		return nil, ErrFieldNotFile
	}
	normalized, err := normalizeValue(*f, value)
	if err != nil {
		return nil, err
	}
	s.setValueLocked(form, f, normalized)
	w := s.widgetLocked(form, *f)
	return &w, nil
}

// AttachFile binds a picked file to a file field. The MIME type must
// match the field kind.
func (s *FormService) AttachFile(source FormSource, nodeID, fieldName string, att *Attachment) (*Widget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	form, f, err := s.fieldLocked(source, nodeID, fieldName)
	if err != nil {
		return nil, err
	}
	if !f.FieldType.IsFile() {
		return nil, ErrFieldNotFile
	}
	if !f.FieldType.AcceptsMIME(att.MIME) {
		return nil, ErrFileMIME
	}

	k := fieldKey(f.NodeID, f.FieldName)
	form.files[k] = att
	if form.appID != "" {
		if s.fileCache[form.appID] == nil {
			s.fileCache[form.appID] = make(map[string]*Attachment)
		}
		s.fileCache[form.appID][k] = att
	}
	s.setValueLocked(form, f, att.Name)
	s.logger.Debugw("form_file_attached", "source", source, "node_id", nodeID, "name", att.Name, "size", len(att.Data))
	w := s.widgetLocked(form, *f)
	return &w, nil
}

// ClearFile detaches the file of a file field and forgets its cache entry.
func (s *FormService) ClearFile(source FormSource, nodeID, fieldName string) (*Widget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	form, f, err := s.fieldLocked(source, nodeID, fieldName)
	if err != nil {
		return nil, err
	}
	if !f.FieldType.IsFile() {
		return nil, ErrFieldNotFile
	}
	k := fieldKey(f.NodeID, f.FieldName)
	delete(form.files, k)
	delete(s.fileCache[form.appID], k)
	s.setValueLocked(form, f, "")
	w := s.widgetLocked(form, *f)
	return &w, nil
}

// HasHistory reports whether parameters were ever entered for appID.
func (s *FormService) HasHistory(appID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paramCache[appID]) > 0 || len(s.fileCache[appID]) > 0
}

// SetRecording toggles automatic draft recording and restoring for source.
func (s *FormService) SetRecording(source FormSource, on bool) error {
	if _, err := ParseFormSource(string(source)); err != nil {
		return err
	}
	s.mu.Lock()
	s.recording[source] = on
	s.mu.Unlock()
	return nil
}

func (s *FormService) Recording(source FormSource) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording[source]
}

// SaveDraft stores the active form of source in its draft slot.
func (s *FormService) SaveDraft(source FormSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	form := s.active[source]
	if form == nil {
		return ErrFormNotFound
	}
	s.saveDraftLocked(source, form)
	return nil
}

// RestoreDraft applies the stored draft for the active form's key.
func (s *FormService) RestoreDraft(source FormSource) (*Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	form := s.active[source]
	if form == nil {
		return nil, ErrFormNotFound
	}
	d, ok := s.drafts[source][form.key]
	if !ok {
		return nil, ErrNoHistory
	}
	applyValues(form.fields, d.fields)
	for k, a := range d.files {
		form.files[k] = a
	}
	return s.viewLocked(source, form), nil
}

// Validate checks that every file field has an attachment and returns a
// copy of the form for submission.
func (s *FormService) Validate(source FormSource) (*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	form := s.active[source]
	if form == nil {
		return nil, ErrFormNotFound
	}
	files := make(map[string]*Attachment, len(form.files))
	for _, f := range form.fields {
		if !f.FieldType.IsFile() {
			continue
		}
		k := fieldKey(f.NodeID, f.FieldName)
		att := form.files[k]
		if att == nil {
			return nil, ErrMissingFile
		}
		files[k] = att
	}
	return &Submission{
		Source: source,
		Key:    form.key,
		AppID:  form.appID,
		Fields: domain.CloneFields(form.fields),
		Files:  files,
	}, nil
}

func (s *FormService) saveDraftLocked(source FormSource, form *activeForm) {
	if form.key == "" {
		return
	}
	files := make(map[string]*Attachment, len(form.files))
	for k, a := range form.files {
		files[k] = a
	}
	s.drafts[source][form.key] = draft{fields: domain.CloneFields(form.fields), files: files}
	s.logger.Debugw("form_draft_saved", "source", source, "key", form.key)
}

func (s *FormService) fieldLocked(source FormSource, nodeID, fieldName string) (*activeForm, *domain.Field, error) {
	form := s.active[source]
	if form == nil {
		return nil, nil, ErrFormNotFound
	}
	for i := range form.fields {
		f := &form.fields[i]
		if f.NodeID == nodeID && (fieldName == "" || f.FieldName == fieldName) {
			return form, f, nil
		}
	}
	return nil, nil, ErrFieldNotFound
}

func (s *FormService) setValueLocked(form *activeForm, f *domain.Field, value string) {
	f.FieldValue = value
	if form.appID == "" {
		return
	}
	if s.paramCache[form.appID] == nil {
		s.paramCache[form.appID] = make(map[string]string)
	}
	s.paramCache[form.appID][fieldKey(f.NodeID, f.FieldName)] = value
}

func (s *FormService) viewLocked(source FormSource, form *activeForm) *Form {
	widgets := make([]Widget, 0, len(form.fields))
	for _, f := range form.fields {
		widgets = append(widgets, s.widgetLocked(form, f))
	}
	return &Form{
		Source:     source,
		Key:        form.key,
		AppID:      form.appID,
		Widgets:    widgets,
		HasHistory: len(s.paramCache[form.appID]) > 0 || len(s.fileCache[form.appID]) > 0,
		Recording:  s.recording[source],
	}
}

func (s *FormService) widgetLocked(form *activeForm, f domain.Field) Widget {
	w := Widget{
		NodeID:    f.NodeID,
		FieldName: f.FieldName,
		Label:     f.Label(),
		Kind:      f.FieldType,
		Widget:    f.FieldType.Widget(),
		Value:     f.FieldValue,
	}
	switch w.Widget {
	case domain.WidgetStepper:
		w.Step = f.FieldType.Step()
	case domain.WidgetSelect:
		w.Options, _ = domain.ParseOptions(f.FieldData)
	case domain.WidgetFile:
		w.Accept = f.FieldType.Accept()
		w.File = form.files[fieldKey(f.NodeID, f.FieldName)].Meta()
	case domain.WidgetToggle:
		w.Value = strconv.FormatBool(f.FieldValue == "true")
	}
	return w
}

// applyValues copies values from saved into fields where the field exists
// in both.
func applyValues(fields, saved []domain.Field) {
	for i := range fields {
		for _, sv := range saved {
			if sv.NodeID == fields[i].NodeID && sv.FieldName == fields[i].FieldName {
				fields[i].FieldValue = sv.FieldValue
				break
			}
		}
	}
}

// normalizeValue checks value against the field kind and returns the form
// it is stored in. An empty number leaves the field unset.
func normalizeValue(f domain.Field, value string) (string, error) {
	switch f.FieldType {
	case domain.FieldInt:
		v := strings.TrimSpace(value)
		if v == "" {
			return "", nil
		}
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			return "", ErrInvalidValue
		}
		return v, nil
	case domain.FieldFloat:
		v := strings.TrimSpace(value)
		if v == "" {
			return "", nil
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return "", ErrInvalidValue
		}
		return v, nil
	case domain.FieldBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return "", ErrInvalidValue
		}
		return strconv.FormatBool(b), nil
	case domain.FieldSwitch, domain.FieldList:
		opts, err := domain.ParseOptions(f.FieldData)
		if err != nil || len(opts) == 0 {
			return value, nil
		}
		for _, o := range opts {
			if o.Value == value {
				return value, nil
			}
		}
		return "", ErrInvalidValue
	case domain.FieldString:
		return value, nil
	case domain.FieldImage, domain.FieldVideo, domain.FieldAudio:
		return "", ErrFieldNotFile
	}
	// unknown kinds are carried through untouched
	return value, nil
}
