package alert

import (
	"fmt"
	"math"
)

// Diagnostic describes a problem found with one alert of a batch.
// Fatal diagnostics exclude the alert from processing; the rest are warnings
// for fields that fall back to a default.
type Diagnostic struct {
	Index   int    `json:"index"`
	AlertID string `json:"alertId,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

func (d Diagnostic) String() string {
	kind := "warning"
	if d.Fatal {
		kind = "error"
	}
	return fmt.Sprintf("alert[%d] %s: %s: %s", d.Index, kind, d.Field, d.Message)
}

// Validate checks the fields the engine depends on. The returned diagnostics
// carry index 0; Partition sets the batch index.
func Validate(a Alert) []Diagnostic {
	var diags []Diagnostic
	add := func(field, msg string, fatal bool) {
		diags = append(diags, Diagnostic{AlertID: a.ID, Field: field, Message: msg, Fatal: fatal})
	}

	if a.ID == "" {
		add("id", "is required", true)
	}
	if a.Timestamp.IsZero() {
		add("timestamp", "is required", true)
	}
	if !a.Severity.Valid() {
		add("severity", fmt.Sprintf("unknown severity %q", a.Severity), true)
	}
	if !a.Type.Valid() {
		add("type", fmt.Sprintf("unknown type %q, defaults apply", a.Type), false)
	}

	checkRange := func(field string, v float64) {
		if math.IsNaN(v) || v < 0 || v > 100 {
			add(field, fmt.Sprintf("%v outside 0..100", v), false)
		}
	}
	checkRange("metadata.impact", a.Metadata.Impact)
	checkRange("metadata.urgency", a.Metadata.Urgency)
	checkRange("metadata.confidence", a.Metadata.Confidence)

	for i, r := range a.Recommendations {
		if !r.Effort.Valid() {
			add(fmt.Sprintf("recommendations[%d].effort", i), fmt.Sprintf("unknown effort %q", r.Effort), false)
		}
	}
	return diags
}

// Partition splits a batch into alerts that can be processed and a parallel
// list of diagnostics. Alerts with at least one fatal diagnostic are dropped.
func Partition(alerts []Alert) (valid []Alert, diags []Diagnostic) {
	valid = make([]Alert, 0, len(alerts))
	for i, a := range alerts {
		fatal := false
		for _, d := range Validate(a) {
			d.Index = i
			diags = append(diags, d)
			if d.Fatal {
				fatal = true
			}
		}
		if !fatal {
			valid = append(valid, a)
		}
	}
	return valid, diags
}
