package rules

import (
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"

	"supportdesk/internal/models"
)

// SchemaError describes an invalid field or rule definition found when a
// form is written.
type SchemaError struct {
	Path   string // fields[2].options, ticket_rules[0].operator ...
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// InputError describes a submitted value that does not satisfy its field.
type InputError struct {
	FieldID string
	Label   string
	Reason  string
}

func (e *InputError) Error() string {
	return e.Label + " " + e.Reason
}

func knownFieldType(t string) bool {
	switch t {
	case models.FieldText, models.FieldTextarea, models.FieldEmail, models.FieldNumber, models.FieldRating,
		models.FieldSelect, models.FieldRadio, models.FieldCheckbox, models.FieldDate:
		return true
	}
	return false
}

// ValidateFields checks field descriptors: ids present and unique, known
// types, options for select/radio, sane numeric bounds.
func ValidateFields(fields []models.FormField) error {
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		path := fmt.Sprintf("fields[%d]", i)
		id := strings.TrimSpace(f.ID)
		if id == "" {
			return &SchemaError{Path: path + ".id", Reason: "is required"}
		}
		if seen[id] {
			return &SchemaError{Path: path + ".id", Reason: fmt.Sprintf("duplicate field id %q", id)}
		}
		seen[id] = true
		if !knownFieldType(f.Type) {
			return &SchemaError{Path: path + ".type", Reason: fmt.Sprintf("unknown field type %q", f.Type)}
		}
		if (f.Type == models.FieldSelect || f.Type == models.FieldRadio) && len(f.Options) == 0 {
			return &SchemaError{Path: path + ".options", Reason: "at least one option is required"}
		}
		values := make(map[string]bool, len(f.Options))
		for j, o := range f.Options {
			if strings.TrimSpace(o.Value) == "" {
				return &SchemaError{Path: fmt.Sprintf("%s.options[%d].value", path, j), Reason: "is required"}
			}
			if values[o.Value] {
				return &SchemaError{Path: fmt.Sprintf("%s.options[%d].value", path, j), Reason: fmt.Sprintf("duplicate option %q", o.Value)}
			}
			values[o.Value] = true
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return &SchemaError{Path: path + ".min", Reason: "must not exceed max"}
		}
	}
	return nil
}

// ValidateRules checks rule descriptors against the fields they reference.
// Rules that were stored before a field was removed are still tolerated at
// evaluation time; this only guards new writes.
func ValidateRules(fields []models.FormField, rules []models.TicketRule) error {
	byID := make(map[string]models.FormField, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		path := fmt.Sprintf("ticket_rules[%d]", i)
		if r.ID != "" {
			if seen[r.ID] {
				return &SchemaError{Path: path + ".id", Reason: fmt.Sprintf("duplicate rule id %q", r.ID)}
			}
			seen[r.ID] = true
		}
		if _, ok := byID[r.FieldID]; !ok {
			return &SchemaError{Path: path + ".field_id", Reason: fmt.Sprintf("unknown field %q", r.FieldID)}
		}
		if !KnownOperator(r.Operator) {
			return &SchemaError{Path: path + ".operator", Reason: fmt.Sprintf("unknown operator %q", r.Operator)}
		}
		want := ValueOf(r.Value)
		if NumericOperator(r.Operator) {
			if want.Kind() == KindNull || want.Kind() == KindList || math.IsNaN(want.ToNumber()) {
				return &SchemaError{Path: path + ".value", Reason: "must be numeric for operator " + r.Operator}
			}
		}
		if r.Operator == models.OpContains && want.Kind() == KindNull {
			return &SchemaError{Path: path + ".value", Reason: "is required for operator contains"}
		}
		if r.TicketPriority != "" && !models.ValidPriority(r.TicketPriority) {
			return &SchemaError{Path: path + ".ticket_priority", Reason: fmt.Sprintf("unknown priority %q", r.TicketPriority)}
		}
	}
	return nil
}

// ValidateSubmission checks submitted data against the form's fields in
// field order and returns the first problem. Required fields come first in
// the sense that an empty required value is reported before its content is
// looked at; optional empty values are skipped.
func ValidateSubmission(form *models.Form, data map[string]any) error {
	for _, f := range form.Fields {
		raw, ok := data[f.ID]
		v := Missing()
		if ok {
			v = ValueOf(raw)
		}
		if v.IsEmpty() {
			if f.Required {
				return &InputError{FieldID: f.ID, Label: f.DisplayName(), Reason: "is required"}
			}
			continue
		}
		if reason := checkValue(f, v); reason != "" {
			return &InputError{FieldID: f.ID, Label: f.DisplayName(), Reason: reason}
		}
	}
	return nil
}

func checkValue(f models.FormField, v Value) string {
	switch f.Type {
	case models.FieldEmail:
		s := strings.TrimSpace(v.ToString())
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != s {
			return "must be a valid email address"
		}
	case models.FieldNumber, models.FieldRating:
		if v.Kind() == KindList || v.Kind() == KindBool {
			return "must be a number"
		}
		n := v.ToNumber()
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return "must be a number"
		}
		if f.Min != nil && n < *f.Min {
			return "must be at least " + formatNumber(*f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return "must be at most " + formatNumber(*f.Max)
		}
	case models.FieldSelect, models.FieldRadio:
		if v.Kind() == KindList {
			return "must be a single choice"
		}
		if !f.HasOption(v.ToString()) {
			return "is not a valid option"
		}
	case models.FieldCheckbox:
		if len(f.Options) == 0 {
			return ""
		}
		items := []Value{v}
		if v.Kind() == KindList {
			items = v.Items()
		}
		for _, it := range items {
			if !f.HasOption(it.ToString()) {
				return "is not a valid option"
			}
		}
	case models.FieldDate:
		if _, err := time.Parse("2006-01-02", strings.TrimSpace(v.ToString())); err != nil {
			return "must be a date (YYYY-MM-DD)"
		}
	}
	return ""
}
