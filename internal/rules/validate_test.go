package rules

import (
	"errors"
	"testing"

	"gorm.io/datatypes"

	"supportdesk/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

func TestValidateFields(t *testing.T) {
	tests := []struct {
		name    string
		fields  []models.FormField
		wantErr string
	}{
		{"ok", []models.FormField{{ID: "a", Type: models.FieldText}, {ID: "b", Type: models.FieldSelect, Options: []models.FieldOption{{Value: "x"}}}}, ""},
		{"missing id", []models.FormField{{Type: models.FieldText}}, "fields[0].id: is required"},
		{"duplicate id", []models.FormField{{ID: "a", Type: models.FieldText}, {ID: "a", Type: models.FieldEmail}}, `fields[1].id: duplicate field id "a"`},
		{"unknown type", []models.FormField{{ID: "a", Type: "signature"}}, `fields[0].type: unknown field type "signature"`},
		{"select without options", []models.FormField{{ID: "a", Type: models.FieldRadio}}, "fields[0].options: at least one option is required"},
		{"duplicate option", []models.FormField{{ID: "a", Type: models.FieldSelect, Options: []models.FieldOption{{Value: "x"}, {Value: "x"}}}}, `fields[0].options[1].value: duplicate option "x"`},
		{"min over max", []models.FormField{{ID: "a", Type: models.FieldNumber, Min: floatPtr(5), Max: floatPtr(1)}}, "fields[0].min: must not exceed max"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFields(tt.fields)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Fatalf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRules(t *testing.T) {
	fields := []models.FormField{{ID: "f1", Type: models.FieldRating}, {ID: "c", Type: models.FieldText}}

	tests := []struct {
		name    string
		rules   []models.TicketRule
		wantErr bool
	}{
		{"ok", []models.TicketRule{{ID: "r1", FieldID: "f1", Operator: models.OpLte, Value: 2}, {ID: "r2", FieldID: "c", Operator: models.OpContains, Value: "refund"}}, false},
		{"numeric string value", []models.TicketRule{{FieldID: "f1", Operator: models.OpGte, Value: "3"}}, false},
		{"unknown field", []models.TicketRule{{FieldID: "nope", Operator: models.OpEq, Value: 1}}, true},
		{"unknown operator", []models.TicketRule{{FieldID: "f1", Operator: "like", Value: 1}}, true},
		{"non numeric value", []models.TicketRule{{FieldID: "f1", Operator: models.OpLt, Value: "abc"}}, true},
		{"null numeric value", []models.TicketRule{{FieldID: "f1", Operator: models.OpLt, Value: nil}}, true},
		{"bad priority", []models.TicketRule{{FieldID: "f1", Operator: models.OpEq, Value: 1, TicketPriority: "critical"}}, true},
		{"duplicate id", []models.TicketRule{{ID: "r", FieldID: "f1", Operator: models.OpEq, Value: 1}, {ID: "r", FieldID: "c", Operator: models.OpEq, Value: 1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRules(fields, tt.rules)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			var se *SchemaError
			if err != nil && !errors.As(err, &se) {
				t.Fatalf("expected *SchemaError, got %T", err)
			}
		})
	}
}

func TestValidateSubmission(t *testing.T) {
	form := &models.Form{Fields: datatypes.JSONSlice[models.FormField]{
		{ID: "email", Type: models.FieldEmail, Label: "Email", Required: true},
		{ID: "score", Type: models.FieldRating, Label: "Score", Min: floatPtr(1), Max: floatPtr(5)},
		{ID: "plan", Type: models.FieldSelect, Label: "Plan", Options: []models.FieldOption{{Value: "basic"}, {Value: "pro"}}},
		{ID: "topics", Type: models.FieldCheckbox, Label: "Topics", Options: []models.FieldOption{{Value: "a"}, {Value: "b"}}},
		{ID: "when", Type: models.FieldDate},
	}}

	tests := []struct {
		name      string
		data      map[string]any
		wantField string
		wantMsg   string
	}{
		{"empty data names required field", map[string]any{}, "email", "Email is required"},
		{"blank required", map[string]any{"email": "   "}, "email", "Email is required"},
		{"bad email", map[string]any{"email": "nope"}, "email", "Email must be a valid email address"},
		{"below min", map[string]any{"email": "a@b.co", "score": 0}, "score", "Score must be at least 1"},
		{"above max", map[string]any{"email": "a@b.co", "score": "9"}, "score", "Score must be at most 5"},
		{"not a number", map[string]any{"email": "a@b.co", "score": "lots"}, "score", "Score must be a number"},
		{"invalid option", map[string]any{"email": "a@b.co", "plan": "gold"}, "plan", "Plan is not a valid option"},
		{"invalid checkbox option", map[string]any{"email": "a@b.co", "topics": []any{"a", "z"}}, "topics", "Topics is not a valid option"},
		{"label falls back to id", map[string]any{"email": "a@b.co", "when": "tomorrow"}, "when", "when must be a date (YYYY-MM-DD)"},
		{"valid", map[string]any{"email": "a@b.co", "score": 3, "plan": "pro", "topics": []any{"a", "b"}, "when": "2026-01-31"}, "", ""},
		{"optional empty skipped", map[string]any{"email": "a@b.co", "score": ""}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubmission(form, tt.data)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ie *InputError
			if !errors.As(err, &ie) {
				t.Fatalf("expected *InputError, got %v", err)
			}
			if ie.FieldID != tt.wantField || ie.Error() != tt.wantMsg {
				t.Fatalf("got (%s, %q), want (%s, %q)", ie.FieldID, ie.Error(), tt.wantField, tt.wantMsg)
			}
		})
	}
}
