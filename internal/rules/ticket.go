package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"supportdesk/internal/models"
)

// Submitter is the resolved identity behind a form submission. At most one
// of StaffUserID and PortalAccessID is set; both nil means anonymous.
type Submitter struct {
	Name           string
	Email          string
	StaffUserID    *uint
	PortalAccessID *uint
}

// DisplayName falls back to the email, then to "Anonymous".
func (s Submitter) DisplayName() string {
	if n := strings.TrimSpace(s.Name); n != "" {
		return n
	}
	if e := strings.TrimSpace(s.Email); e != "" {
		return e
	}
	return "Anonymous"
}

// Anonymous reports whether no authenticated identity was resolved.
func (s Submitter) Anonymous() bool {
	return s.StaffUserID == nil && s.PortalAccessID == nil
}

// TicketDraft holds the attributes of a ticket produced by a matching rule.
// AssigneeID and PortalAccessID are mutually exclusive.
type TicketDraft struct {
	CompanyID      uint
	ClientID       uint
	Subject        string
	Description    string
	Priority       string
	Source         string
	AssigneeID     *uint
	PortalAccessID *uint
	CreatedByID    *uint
	RequesterName  string
	RequesterEmail string
	ExternalID     string
	ExternalType   string
	RuleID         string
}

var placeholderRe = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// RenderSubject replaces {{key}} with the stringified value of data[key].
// A {{customer_name}} left over after that (no such submitted field) becomes
// customerName. Unknown placeholders are kept verbatim. Substitution is a
// single pass, so a value that itself looks like a placeholder is not
// expanded again.
func RenderSubject(template string, data map[string]any, customerName string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := m[2 : len(m)-2]
		if v, ok := data[key]; ok {
			return ValueOf(v).ToString()
		}
		if key == "customer_name" {
			return customerName
		}
		return m
	})
}

// DefaultSubject is used when a rule has no subject template.
func DefaultSubject(form *models.Form) string {
	return "Form submission: " + form.Name
}

// BuildTicket turns a matched rule into a ticket draft, or returns nil when
// the rule does not create tickets.
func BuildTicket(rule models.TicketRule, sub *models.FormSubmission, form *models.Form, who Submitter) *TicketDraft {
	if !rule.CreateTicket {
		return nil
	}

	tpl := rule.SubjectTemplate()
	if strings.TrimSpace(tpl) == "" {
		tpl = DefaultSubject(form)
	}
	subject := strings.TrimSpace(RenderSubject(tpl, map[string]any(sub.Data), who.DisplayName()))

	description := strings.TrimSpace(sub.Description)
	if description == "" {
		description = fmt.Sprintf("Submitted via form %q by %s.", form.Name, describeSubmitter(who))
	}

	priority := rule.TicketPriority
	if priority == "" {
		priority = models.PriorityMedium
	}

	draft := &TicketDraft{
		CompanyID:      form.CompanyID,
		ClientID:       form.ClientID,
		Subject:        subject,
		Description:    description,
		Priority:       priority,
		Source:         models.SourceForm,
		CreatedByID:    who.StaffUserID,
		RequesterName:  who.DisplayName(),
		RequesterEmail: who.Email,
		ExternalID:     strconv.FormatUint(uint64(sub.ID), 10),
		ExternalType:   models.ExternalTypeFormSubmission,
		RuleID:         rule.ID,
	}
	// 指派给员工或门户用户，二者只取其一
	if rule.AssignTo != nil && *rule.AssignTo != 0 {
		id := *rule.AssignTo
		draft.AssigneeID = &id
	} else if who.PortalAccessID != nil {
		id := *who.PortalAccessID
		draft.PortalAccessID = &id
	}
	return draft
}

func describeSubmitter(who Submitter) string {
	name := who.DisplayName()
	if who.Email != "" && name != who.Email {
		return fmt.Sprintf("%s <%s>", name, who.Email)
	}
	return name
}

// FieldValue extracts the value a rule should look at. A field the form no
// longer declares, or one the submission did not carry, is Missing.
func FieldValue(form *models.Form, data map[string]any, fieldID string) Value {
	if _, ok := form.Field(fieldID); !ok {
		return Missing()
	}
	raw, ok := data[fieldID]
	if !ok {
		return Missing()
	}
	return ValueOf(raw)
}

// FirstMatch walks the rules in stored order and returns the first rule whose
// condition holds and which creates a ticket. Matching rules with
// create_ticket off are passed over.
func FirstMatch(form *models.Form, data map[string]any) (models.TicketRule, bool) {
	for _, rule := range form.TicketRules {
		if !rule.CreateTicket {
			continue
		}
		if Evaluate(rule, FieldValue(form, data, rule.FieldID)) {
			return rule, true
		}
	}
	return models.TicketRule{}, false
}

// FirstTicket folds over the form's rules and returns the draft built by the
// first match, or nil when no rule fires.
func FirstTicket(form *models.Form, sub *models.FormSubmission, who Submitter) *TicketDraft {
	rule, ok := FirstMatch(form, map[string]any(sub.Data))
	if !ok {
		return nil
	}
	return BuildTicket(rule, sub, form, who)
}
