package services

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"supportdesk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedbackRequest() *FormCreateRequest {
	return &FormCreateRequest{
		Name:      "Feedback",
		Published: true,
		Fields: []models.FormField{
			{ID: "f1", Type: models.FieldRating, Label: "Satisfaction", Required: true},
		},
		TicketRules: []models.TicketRule{
			{
				FieldID:        "f1",
				Operator:       models.OpLte,
				Value:          2,
				CreateTicket:   true,
				TicketPriority: models.PriorityUrgent,
				TicketSubject:  "Low score: {{f1}}",
			},
		},
	}
}

func TestSubmit_LowScoreCreatesUrgentTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.createForm(t, feedbackRequest())

	res, err := f.submit(form, map[string]interface{}{"f1": 1}, Session{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.TicketCreated)
	require.NotNil(t, res.TicketID)
	assert.Equal(t, f.forms.ConfirmationMessage(form), res.Message)

	ticket, err := f.tickets.GetTicket(ctx, f.company.ID, *res.TicketID)
	require.NoError(t, err)
	assert.Equal(t, "Low score: 1", ticket.Subject)
	assert.Equal(t, models.PriorityUrgent, ticket.Priority)
	assert.Equal(t, models.SourceForm, ticket.Source)
	assert.Equal(t, f.client.ID, ticket.ClientID)
	assert.Equal(t, models.ExternalTypeFormSubmission, ticket.ExternalType)
	assert.Equal(t, strconv.FormatUint(uint64(res.SubmissionID), 10), ticket.ExternalID)

	sub, err := f.submissions.GetSubmission(ctx, f.company.ID, res.SubmissionID)
	require.NoError(t, err)
	require.NotNil(t, sub.TicketID)
	assert.Equal(t, *res.TicketID, *sub.TicketID)

	origin, err := f.submissions.GetSubmissionForTicket(ctx, f.company.ID, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, origin.ID)
}

func TestSubmit_NoMatchStoresSubmissionOnly(t *testing.T) {
	f := newFixture(t)
	form := f.createForm(t, feedbackRequest())

	res, err := f.submit(form, map[string]interface{}{"f1": 5}, Session{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.TicketCreated)
	assert.Nil(t, res.TicketID)
	assert.Equal(t, int64(1), f.countSubmissions(t))
	assert.Equal(t, int64(0), f.countTickets(t))
}

func TestSubmit_FirstMatchingRuleWins(t *testing.T) {
	f := newFixture(t)
	req := feedbackRequest()
	req.TicketRules = []models.TicketRule{
		{FieldID: "f1", Operator: models.OpLt, Value: 3, CreateTicket: true, TicketPriority: models.PriorityHigh, TicketSubject: "First"},
		{FieldID: "f1", Operator: models.OpEq, Value: 1, CreateTicket: true, TicketPriority: models.PriorityUrgent, TicketSubject: "Second"},
	}
	form := f.createForm(t, req)

	res, err := f.submit(form, map[string]interface{}{"f1": 1}, Session{})
	require.NoError(t, err)
	require.True(t, res.TicketCreated)
	assert.Equal(t, int64(1), f.countTickets(t))

	ticket, err := f.tickets.GetTicket(context.Background(), f.company.ID, *res.TicketID)
	require.NoError(t, err)
	assert.Equal(t, "First", ticket.Subject)
	assert.Equal(t, models.PriorityHigh, ticket.Priority)
}

func TestSubmit_RequiredFieldRejectedBeforePersistence(t *testing.T) {
	f := newFixture(t)
	form := f.createForm(t, &FormCreateRequest{
		Name:      "Contact",
		Published: true,
		Fields:    []models.FormField{{ID: "mail", Type: models.FieldEmail, Label: "Email", Required: true}},
	})

	_, err := f.submit(form, map[string]interface{}{}, Session{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadRequest))
	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "Email", fe.Field)
	assert.Equal(t, int64(0), f.countSubmissions(t))

	_, err = f.submit(form, map[string]interface{}{"mail": "not-an-email"}, Session{})
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "Email", fe.Field)
	assert.Equal(t, int64(0), f.countSubmissions(t))
}

func TestSubmit_SubjectTemplateUsesCustomerName(t *testing.T) {
	f := newFixture(t)
	form := f.createForm(t, &FormCreateRequest{
		Name:      "Rating",
		Published: true,
		Fields:    []models.FormField{{ID: "rating", Type: models.FieldRating, Label: "Rating"}},
		TicketRules: []models.TicketRule{{
			FieldID:               "rating",
			Operator:              models.OpLte,
			Value:                 2,
			CreateTicket:          true,
			TicketSubjectTemplate: "Urgent: {{rating}} stars from {{customer_name}}",
		}},
	})

	res, err := f.submissions.Submit(context.Background(), &SubmitRequest{
		CompanySlug: f.company.Slug,
		ClientSlug:  f.client.Slug,
		FormSlug:    form.Slug,
		Data:        map[string]interface{}{"rating": "1"},
		Contact:     &Contact{Name: "Alice", Email: "alice@globex.com"},
	}, Session{})
	require.NoError(t, err)
	require.True(t, res.TicketCreated)

	ticket, err := f.tickets.GetTicket(context.Background(), f.company.ID, *res.TicketID)
	require.NoError(t, err)
	assert.Equal(t, "Urgent: 1 stars from Alice", ticket.Subject)
	assert.Equal(t, models.PriorityMedium, ticket.Priority)
	assert.Equal(t, "alice@globex.com", ticket.RequesterEmail)
}

func TestSubmit_NotFound(t *testing.T) {
	f := newFixture(t)
	req := feedbackRequest()
	req.Published = false
	form := f.createForm(t, req)

	_, err := f.submit(form, map[string]interface{}{"f1": 1}, Session{})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = f.submissions.Submit(context.Background(), &SubmitRequest{
		CompanySlug: f.company.Slug, ClientSlug: "nope", FormSlug: form.Slug,
	}, Session{})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, int64(0), f.countSubmissions(t))
}

func TestSubmit_RequireAuthentication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := feedbackRequest()
	req.RequireAuthentication = true
	form := f.createForm(t, req)

	_, err := f.submit(form, map[string]interface{}{"f1": 1}, Session{})
	assert.True(t, errors.Is(err, ErrUnauthorized))

	// 其他公司的员工会话不被接受
	other, err := f.tenant.CreateCompany(ctx, &CompanyCreateRequest{Name: "Other"})
	require.NoError(t, err)
	_, err = f.submit(form, map[string]interface{}{"f1": 1}, Session{Staff: &StaffClaims{UserID: f.agent.ID, CompanyID: other.ID}})
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, int64(0), f.countSubmissions(t))

	res, err := f.submit(form, map[string]interface{}{"f1": 1}, Session{Staff: &StaffClaims{UserID: f.agent.ID, CompanyID: f.company.ID}})
	require.NoError(t, err)
	sub, err := f.submissions.GetSubmission(ctx, f.company.ID, res.SubmissionID)
	require.NoError(t, err)
	require.NotNil(t, sub.SubmittedByUserID)
	assert.Equal(t, f.agent.ID, *sub.SubmittedByUserID)
	assert.Equal(t, "agent@acme.io", sub.SubmitterEmail)

	ticket, err := f.tickets.GetTicket(ctx, f.company.ID, *res.TicketID)
	require.NoError(t, err)
	require.NotNil(t, ticket.CreatedByID)
	assert.Equal(t, f.agent.ID, *ticket.CreatedByID)
}

func TestSubmit_PortalSubmitterAndAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	access, err := f.portal.CreateAccess(ctx, f.company.ID, &PortalAccessCreateRequest{ClientID: f.client.ID, Email: "bob@globex.com", Name: "Bob"})
	require.NoError(t, err)
	sess := Session{Portal: &PortalClaims{PortalAccessID: access.ID, ClientID: f.client.ID, CompanyID: f.company.ID}}

	form := f.createForm(t, feedbackRequest())
	res, err := f.submit(form, map[string]interface{}{"f1": 2}, sess)
	require.NoError(t, err)
	ticket, err := f.tickets.GetTicket(ctx, f.company.ID, *res.TicketID)
	require.NoError(t, err)
	require.NotNil(t, ticket.PortalAccessID)
	assert.Equal(t, access.ID, *ticket.PortalAccessID)
	assert.Nil(t, ticket.AssigneeID)
	assert.Equal(t, "Bob", ticket.RequesterName)

	req := feedbackRequest()
	req.Name = "Escalation"
	req.TicketRules[0].AssignTo = uintPtr(f.agent.ID)
	assigned := f.createForm(t, req)
	res, err = f.submit(assigned, map[string]interface{}{"f1": 2}, sess)
	require.NoError(t, err)
	ticket, err = f.tickets.GetTicket(ctx, f.company.ID, *res.TicketID)
	require.NoError(t, err)
	require.NotNil(t, ticket.AssigneeID)
	assert.Equal(t, f.agent.ID, *ticket.AssigneeID)
	assert.Nil(t, ticket.PortalAccessID)
}

func TestSubmit_DanglingRuleNeverMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := feedbackRequest()
	req.Fields = append(req.Fields, models.FormField{ID: "note", Type: models.FieldText, Label: "Note"})
	req.TicketRules = append(req.TicketRules, models.TicketRule{
		FieldID: "note", Operator: models.OpContains, Value: "refund", CreateTicket: true, TicketSubject: "Refund",
	})
	form := f.createForm(t, req)

	// 只修改字段时保留已有规则，"note" 规则变成悬空引用
	fields := []models.FormField{{ID: "f1", Type: models.FieldRating, Label: "Satisfaction", Required: true}}
	_, err := f.forms.UpdateForm(ctx, f.company.ID, form.ID, &FormUpdateRequest{Fields: &fields})
	require.NoError(t, err)

	res, err := f.submit(form, map[string]interface{}{"f1": 5, "note": "I want a refund"}, Session{})
	require.NoError(t, err)
	assert.False(t, res.TicketCreated)
}

func TestCreateTicketFromSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.createForm(t, feedbackRequest())

	// 已有工单的提交不能再次建单
	res, err := f.submit(form, map[string]interface{}{"f1": 1}, Session{})
	require.NoError(t, err)
	_, err = f.submissions.CreateTicketFromSubmission(ctx, f.company.ID, res.SubmissionID, f.agent.ID)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, int64(1), f.countTickets(t))

	// 未命中规则的提交按默认规则建单
	res, err = f.submit(form, map[string]interface{}{"f1": 4}, Session{})
	require.NoError(t, err)
	require.False(t, res.TicketCreated)
	ticket, err := f.submissions.CreateTicketFromSubmission(ctx, f.company.ID, res.SubmissionID, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Form submission: Feedback", ticket.Subject)
	assert.Equal(t, models.PriorityMedium, ticket.Priority)
	require.NotNil(t, ticket.CreatedByID)
	assert.Equal(t, f.agent.ID, *ticket.CreatedByID)

	_, err = f.submissions.CreateTicketFromSubmission(ctx, f.company.ID, res.SubmissionID, f.agent.ID)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, int64(2), f.countTickets(t))

	_, err = f.submissions.CreateTicketFromSubmission(ctx, f.company.ID, 9999, f.agent.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListSubmissions(t *testing.T) {
	f := newFixture(t)
	form := f.createForm(t, feedbackRequest())
	for _, score := range []int{1, 4, 5} {
		_, err := f.submit(form, map[string]interface{}{"f1": score}, Session{})
		require.NoError(t, err)
	}

	all, total, err := f.submissions.ListSubmissions(context.Background(), f.company.ID, &SubmissionListRequest{FormID: &form.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, all, 3)

	with := true
	ticketed, total, err := f.submissions.ListSubmissions(context.Background(), f.company.ID, &SubmissionListRequest{HasTicket: &with})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, ticketed, 1)
	assert.NotNil(t, ticketed[0].TicketID)
}
