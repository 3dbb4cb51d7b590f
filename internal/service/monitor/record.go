package monitor

import (
	"encoding/json"
	"strings"
)

// Sentinels used when rendering unknown fields.
const (
	Unknown       = "Unknown"
	NoDescription = "No description provided"
)

// CallRecord is the structured information extracted from a call. An
// empty field is unknown.
type CallRecord struct {
	CallerName   string `json:"caller_name,omitempty"`
	Location     string `json:"location,omitempty"`
	CaseCategory string `json:"case_category,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Merge returns r updated with every non-blank field of next. Fields that
// next leaves unknown keep their previous value.
func (r CallRecord) Merge(next CallRecord) CallRecord {
	pick := func(cur, upd string) string {
		if v := strings.TrimSpace(upd); v != "" && !isUnknownSentinel(v) {
			return v
		}
		return cur
	}
	return CallRecord{
		CallerName:   pick(r.CallerName, next.CallerName),
		Location:     pick(r.Location, next.Location),
		CaseCategory: pick(r.CaseCategory, next.CaseCategory),
		Description:  pick(r.Description, next.Description),
	}
}

// IsEmpty reports whether every field is unknown.
func (r CallRecord) IsEmpty() bool {
	return r == CallRecord{}
}

// JSON returns the record as a JSON object including unknown fields as null.
func (r CallRecord) JSON() string {
	nullable := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	b, _ := json.Marshal(struct {
		CallerName   *string `json:"caller_name"`
		Location     *string `json:"location"`
		CaseCategory *string `json:"case_category"`
		Description  *string `json:"description"`
	}{nullable(r.CallerName), nullable(r.Location), nullable(r.CaseCategory), nullable(r.Description)})
	return string(b)
}

// Snapshot is a rendered CallRecord with every field resolved.
type Snapshot struct {
	CallerName   string `json:"caller_name"`
	Location     string `json:"location"`
	CaseCategory string `json:"case_category"`
	Description  string `json:"description"`
}

// Render resolves unknown fields to their sentinels.
func (r CallRecord) Render() Snapshot {
	or := func(s, def string) string {
		if s == "" {
			return def
		}
		return s
	}
	return Snapshot{
		CallerName:   or(r.CallerName, Unknown),
		Location:     or(r.Location, Unknown),
		CaseCategory: or(r.CaseCategory, Unknown),
		Description:  or(r.Description, NoDescription),
	}
}

// Models sometimes echo the rendered sentinels back; they mean unknown.
func isUnknownSentinel(s string) bool {
	switch strings.ToLower(s) {
	case "unknown", "null", "none", "n/a", strings.ToLower(NoDescription):
		return true
	}
	return false
}
