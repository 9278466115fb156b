// Package devrev implements the client for the DevRev works API.
//
// Work documents arrive with a largely optional field set; every accessor
// on Work is total and maps absent data to nil rather than failing. The
// original wire document is preserved verbatim for audit and detail views.
package devrev

import "encoding/json"

// Ref is an id + human-readable name pair as the remote API renders actors,
// parts and sprints. Depending on the object kind the label arrives either
// as display_name or name, so both are modeled.
type Ref struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
}

// Tag is a work item label.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Stage is the nested stage object; the stage name lives two levels deep.
type Stage struct {
	Stage *struct {
		Name string `json:"name"`
	} `json:"stage"`
}

// Work is a single work item document returned by works.list.
//
// Unmarshaling keeps a copy of the raw JSON so that fields this model does
// not know about survive into the local store untouched.
type Work struct {
	ID               string         `json:"id"`
	DisplayID        string         `json:"display_id"`
	Title            string         `json:"title"`
	Body             string         `json:"body"`
	Type             string         `json:"type"`
	State            string         `json:"state"`
	StateDisplayName string         `json:"state_display_name"`
	Priority         string         `json:"priority"`
	Severity         string         `json:"severity"`
	Subtype          string         `json:"subtype"`
	CreatedDate      string         `json:"created_date"`
	ModifiedDate     string         `json:"modified_date"`
	TargetCloseDate  string         `json:"target_close_date"`
	CreatedBy        *Ref           `json:"created_by"`
	ModifiedBy       *Ref           `json:"modified_by"`
	OwnedBy          *Ref           `json:"owned_by"`
	ReportedBy       *Ref           `json:"reported_by"`
	AppliesToPart    *Ref           `json:"applies_to_part"`
	Sprint           *Ref           `json:"sprint"`
	Stage            *Stage         `json:"stage"`
	Tags             []Tag          `json:"tags"`
	AutomatedTest    string         `json:"automated_test"`
	CustomFields     map[string]any `json:"custom_fields"`

	raw json.RawMessage
}

// UnmarshalJSON decodes the known fields and retains the original document.
func (w *Work) UnmarshalJSON(data []byte) error {
	type alias Work
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*w = Work(a)
	w.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Raw returns the full original document. For works constructed in code
// (tests) rather than decoded from the wire, the known fields are
// serialized instead.
func (w *Work) Raw() json.RawMessage {
	if w.raw != nil {
		return w.raw
	}
	type alias Work
	data, err := json.Marshal((*alias)(w))
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// StateLabel returns the remote state label exactly as the remote reports
// it: the display label when present, otherwise the enum value.
func (w *Work) StateLabel() *string {
	if w.StateDisplayName != "" {
		return &w.StateDisplayName
	}
	return optional(w.State)
}

// StageName returns the nested stage.stage.name, or nil at any missing
// level.
func (w *Work) StageName() *string {
	if w.Stage == nil || w.Stage.Stage == nil {
		return nil
	}
	return optional(w.Stage.Stage.Name)
}

// PartName returns the product-area label. Parts carry their label in
// name; display_name is the fallback.
func (w *Work) PartName() *string {
	if w.AppliesToPart == nil {
		return nil
	}
	if w.AppliesToPart.Name != "" {
		return &w.AppliesToPart.Name
	}
	return optional(w.AppliesToPart.DisplayName)
}

// SprintName returns the sprint label (display_name, falling back to name).
func (w *Work) SprintName() *string {
	if w.Sprint == nil {
		return nil
	}
	if w.Sprint.DisplayName != "" {
		return &w.Sprint.DisplayName
	}
	return optional(w.Sprint.Name)
}

// AutomatedTestValue resolves the automation status for this work item.
// Resolution order: the vendor-prefixed custom field, then the generic
// custom field, then the top-level field, then nil.
func (w *Work) AutomatedTestValue() *string {
	if v := customString(w.CustomFields, "tnt__automated_test"); v != nil {
		return v
	}
	if v := customString(w.CustomFields, "automated_test"); v != nil {
		return v
	}
	return optional(w.AutomatedTest)
}

// RefID returns the id of a possibly-nil reference.
func RefID(r *Ref) *string {
	if r == nil {
		return nil
	}
	return optional(r.ID)
}

// RefDisplayName returns the display name of a possibly-nil reference.
func RefDisplayName(r *Ref) *string {
	if r == nil {
		return nil
	}
	return optional(r.DisplayName)
}

func customString(fields map[string]any, key string) *string {
	if fields == nil {
		return nil
	}
	s, ok := fields[key].(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
