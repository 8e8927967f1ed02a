package activityz

import (
	"time"
)

// ActivityRecord is an immutable snapshot of an activity, shaped for JSON
// export.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type ActivityRecord struct {
	StartTime         time.Time       `json:"start_time"`
	Tags              []KeyValue      `json:"tags,omitempty"`
	Baggage           []BaggageItem   `json:"baggage,omitempty"`
	Events            []ActivityEvent `json:"events,omitempty"`
	Links             []ActivityLink  `json:"links,omitempty"`
	Duration          time.Duration   `json:"duration"`
	Source            string          `json:"source"`
	SourceVersion     string          `json:"source_version,omitempty"`
	OperationName     string          `json:"operation_name"`
	DisplayName       string          `json:"display_name"`
	Kind              string          `json:"kind"`
	IDFormat          string          `json:"id_format"`
	ID                string          `json:"id"`
	ParentID          string          `json:"parent_id,omitempty"`
	RootID            string          `json:"root_id"`
	TraceID           string          `json:"trace_id,omitempty"`
	SpanID            string          `json:"span_id,omitempty"`
	ParentSpanID      string          `json:"parent_span_id,omitempty"`
	TraceState        string          `json:"trace_state,omitempty"`
	Status            string          `json:"status"`
	StatusDescription string          `json:"status_description,omitempty"`
	Recorded          bool            `json:"recorded"`
}

// Record captures the current state of the activity.
func (a *Activity) Record() ActivityRecord {
	if a == nil {
		return ActivityRecord{}
	}

	r := ActivityRecord{
		StartTime:         a.StartTime(),
		Tags:              a.tagSlice(),
		Events:            a.Events(),
		Links:             a.Links(),
		Duration:          a.Duration(),
		OperationName:     a.operationName,
		DisplayName:       a.DisplayName(),
		Kind:              a.kind.String(),
		IDFormat:          a.IDFormat().String(),
		ID:                a.ID(),
		ParentID:          a.ParentID(),
		RootID:            a.RootID(),
		TraceState:        a.TraceState(),
		Status:            a.Status().String(),
		StatusDescription: a.StatusDescription(),
		Recorded:          a.Recorded(),
	}
	if a.source != nil {
		r.Source = a.source.Name
		r.SourceVersion = a.source.Version
	}
	if a.IDFormat() == IDFormatW3C {
		r.TraceID = a.traceID.String()
		r.SpanID = a.spanID.String()
		if p := a.ParentSpanID(); p.IsValid() {
			r.ParentSpanID = p.String()
		}
	}
	for k, v := range a.Baggage() {
		r.Baggage = append(r.Baggage, BaggageItem{Key: k, Value: v})
	}
	return r
}
