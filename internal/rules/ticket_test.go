package rules

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gorm.io/datatypes"

	"supportdesk/internal/models"
)

func uintPtr(v uint) *uint { return &v }

func feedbackForm() *models.Form {
	return &models.Form{
		ID:        11,
		CompanyID: 1,
		ClientID:  2,
		Name:      "Feedback",
		Fields: datatypes.JSONSlice[models.FormField]{
			{ID: "f1", Type: models.FieldRating, Label: "Satisfaction", Required: true},
			{ID: "rating", Type: models.FieldRating, Label: "Stars"},
			{ID: "comment", Type: models.FieldTextarea, Label: "Comment"},
		},
	}
}

func TestRenderSubject(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     map[string]any
		customer string
		want     string
	}{
		{"rating and customer", "Urgent: {{rating}} stars from {{customer_name}}", map[string]any{"rating": "1"}, "Alice", "Urgent: 1 stars from Alice"},
		{"number value", "Low score: {{f1}}", map[string]any{"f1": float64(1)}, "", "Low score: 1"},
		{"submitted customer_name wins", "From {{customer_name}}", map[string]any{"customer_name": "Bob"}, "Alice", "From Bob"},
		{"unknown placeholder kept", "Hi {{missing}}", map[string]any{}, "Alice", "Hi {{missing}}"},
		{"repeated placeholder", "{{a}}-{{a}}", map[string]any{"a": true}, "", "true-true"},
		{"list value", "Topics: {{t}}", map[string]any{"t": []any{"a", "b"}}, "", "Topics: a,b"},
		{"no re-expansion", "{{a}}", map[string]any{"a": "{{b}}", "b": "x"}, "", "{{b}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderSubject(tt.template, tt.data, tt.customer); got != tt.want {
				t.Fatalf("RenderSubject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildTicket_NoTicketRule(t *testing.T) {
	r := models.TicketRule{ID: "r1", FieldID: "f1", Operator: models.OpEq, Value: 1, CreateTicket: false}
	sub := &models.FormSubmission{ID: 5, Data: datatypes.JSONMap{"f1": 1}}
	if d := BuildTicket(r, sub, feedbackForm(), Submitter{Name: "Alice"}); d != nil {
		t.Fatalf("expected nil draft, got %+v", d)
	}
}

func TestBuildTicket_Defaults(t *testing.T) {
	form := feedbackForm()
	r := models.TicketRule{ID: "r1", FieldID: "f1", Operator: models.OpLte, Value: 2, CreateTicket: true}
	sub := &models.FormSubmission{ID: 42, Data: datatypes.JSONMap{"f1": float64(1)}}
	who := Submitter{Name: "Alice", Email: "alice@example.com"}

	got := BuildTicket(r, sub, form, who)
	want := &TicketDraft{
		CompanyID:      1,
		ClientID:       2,
		Subject:        "Form submission: Feedback",
		Description:    `Submitted via form "Feedback" by Alice <alice@example.com>.`,
		Priority:       models.PriorityMedium,
		Source:         models.SourceForm,
		RequesterName:  "Alice",
		RequesterEmail: "alice@example.com",
		ExternalID:     "42",
		ExternalType:   models.ExternalTypeFormSubmission,
		RuleID:         "r1",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("draft mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildTicket_TemplatePriorityAndDescription(t *testing.T) {
	form := feedbackForm()
	r := models.TicketRule{
		ID: "r1", FieldID: "rating", Operator: models.OpLte, Value: 2, CreateTicket: true,
		TicketSubjectTemplate: "Urgent: {{rating}} stars from {{customer_name}}",
		TicketPriority:        models.PriorityUrgent,
	}
	sub := &models.FormSubmission{ID: 7, Data: datatypes.JSONMap{"rating": "1"}, Description: "  app crashes  "}

	got := BuildTicket(r, sub, form, Submitter{Name: "Alice"})
	if got.Subject != "Urgent: 1 stars from Alice" {
		t.Errorf("subject = %q", got.Subject)
	}
	if got.Priority != models.PriorityUrgent {
		t.Errorf("priority = %q", got.Priority)
	}
	if got.Description != "app crashes" {
		t.Errorf("description = %q", got.Description)
	}
}

func TestBuildTicket_LegacySubjectKey(t *testing.T) {
	r := models.TicketRule{ID: "r1", FieldID: "f1", Operator: models.OpLte, Value: 2, CreateTicket: true, TicketSubject: "Low score: {{f1}}"}
	sub := &models.FormSubmission{ID: 1, Data: datatypes.JSONMap{"f1": float64(1)}}
	if got := BuildTicket(r, sub, feedbackForm(), Submitter{}); got.Subject != "Low score: 1" {
		t.Fatalf("subject = %q", got.Subject)
	}
}

func TestBuildTicket_AssignmentIsExclusive(t *testing.T) {
	form := feedbackForm()
	sub := &models.FormSubmission{ID: 1, Data: datatypes.JSONMap{"f1": float64(1)}}
	portalWho := Submitter{Name: "Carol", Email: "carol@client.test", PortalAccessID: uintPtr(9)}

	withStaff := models.TicketRule{ID: "r", FieldID: "f1", Operator: models.OpEq, Value: 1, CreateTicket: true, AssignTo: uintPtr(3)}
	d := BuildTicket(withStaff, sub, form, portalWho)
	if d.AssigneeID == nil || *d.AssigneeID != 3 || d.PortalAccessID != nil {
		t.Fatalf("rule assignee should win exclusively: %+v", d)
	}

	noStaff := withStaff
	noStaff.AssignTo = nil
	d = BuildTicket(noStaff, sub, form, portalWho)
	if d.AssigneeID != nil || d.PortalAccessID == nil || *d.PortalAccessID != 9 {
		t.Fatalf("portal identity should be the fallback: %+v", d)
	}

	d = BuildTicket(noStaff, sub, form, Submitter{Name: "anon"})
	if d.AssigneeID != nil || d.PortalAccessID != nil {
		t.Fatalf("anonymous submission should leave assignment empty: %+v", d)
	}
}

func TestFirstMatch_StoredOrderWins(t *testing.T) {
	form := feedbackForm()
	form.TicketRules = datatypes.JSONSlice[models.TicketRule]{
		{ID: "silent", FieldID: "f1", Operator: models.OpLte, Value: 5, CreateTicket: false},
		{ID: "first", FieldID: "f1", Operator: models.OpLte, Value: 2, CreateTicket: true, TicketPriority: models.PriorityHigh},
		{ID: "second", FieldID: "f1", Operator: models.OpEq, Value: 1, CreateTicket: true, TicketPriority: models.PriorityUrgent},
	}

	got, ok := FirstMatch(form, map[string]any{"f1": float64(1)})
	if !ok || got.ID != "first" {
		t.Fatalf("FirstMatch() = %q, %v; want first", got.ID, ok)
	}

	sub := &models.FormSubmission{ID: 3, Data: datatypes.JSONMap{"f1": float64(1)}}
	draft := FirstTicket(form, sub, Submitter{Name: "Alice"})
	if draft == nil || draft.Priority != models.PriorityHigh || draft.RuleID != "first" {
		t.Fatalf("FirstTicket() = %+v", draft)
	}
}

func TestFirstMatch_DanglingAndAbsentFields(t *testing.T) {
	form := feedbackForm()
	form.TicketRules = datatypes.JSONSlice[models.TicketRule]{
		// 字段已从表单删除
		{ID: "dangling", FieldID: "deleted", Operator: models.OpNeq, Value: "x", CreateTicket: true},
		// 字段存在但未提交
		{ID: "absent", FieldID: "comment", Operator: models.OpNeq, Value: "x", CreateTicket: true},
	}

	if r, ok := FirstMatch(form, map[string]any{"deleted": "y", "f1": 3}); ok {
		t.Fatalf("expected no match, got %q", r.ID)
	}
	if d := FirstTicket(form, &models.FormSubmission{Data: datatypes.JSONMap{"f1": 3}}, Submitter{}); d != nil {
		t.Fatalf("expected no draft, got %+v", d)
	}
}
