package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 表单字段类型
const (
	FieldText     = "text"
	FieldTextarea = "textarea"
	FieldEmail    = "email"
	FieldNumber   = "number"
	FieldRating   = "rating"
	FieldSelect   = "select"
	FieldRadio    = "radio"
	FieldCheckbox = "checkbox"
	FieldDate     = "date"
)

// 规则运算符
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpLt       = "lt"
	OpLte      = "lte"
	OpGt       = "gt"
	OpGte      = "gte"
	OpContains = "contains"
)

// FieldOption 选择类字段的候选项
type FieldOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FormField 表单字段描述，作为 JSON 文档保存在 forms.fields 中
type FormField struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Label       string        `json:"label"`
	Required    bool          `json:"required"`
	Options     []FieldOption `json:"options,omitempty"`
	Min         *float64      `json:"min,omitempty"`
	Max         *float64      `json:"max,omitempty"`
	Placeholder string        `json:"placeholder,omitempty"`
}

// DisplayName 错误信息中用于指代该字段的名字
func (f FormField) DisplayName() string {
	if strings.TrimSpace(f.Label) != "" {
		return f.Label
	}
	return f.ID
}

// IsChoice 是否为选择类字段
func (f FormField) IsChoice() bool {
	switch f.Type {
	case FieldSelect, FieldRadio, FieldCheckbox:
		return true
	}
	return false
}

// HasOption 判断候选项中是否包含 v
func (f FormField) HasOption(v string) bool {
	for _, o := range f.Options {
		if o.Value == v {
			return true
		}
	}
	return false
}

// TicketRule 表单提交后的建单规则，作为 JSON 文档按编写顺序保存
type TicketRule struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	FieldID      string `json:"field_id"`
	Operator     string `json:"operator"`
	Value        any    `json:"value"`
	CreateTicket bool   `json:"create_ticket"`
	// 两种写法都接受，ticket_subject_template 优先
	TicketSubject         string `json:"ticket_subject,omitempty"`
	TicketSubjectTemplate string `json:"ticket_subject_template,omitempty"`
	TicketPriority        string `json:"ticket_priority,omitempty"`
	AssignTo              *uint  `json:"assign_to,omitempty"`
}

// SubjectTemplate 返回规则配置的标题模板，未配置时为空
func (r TicketRule) SubjectTemplate() string {
	if strings.TrimSpace(r.TicketSubjectTemplate) != "" {
		return r.TicketSubjectTemplate
	}
	return r.TicketSubject
}

// 表单
type Form struct {
	ID                    uint                            `gorm:"primaryKey" json:"id"`
	CompanyID             uint                            `gorm:"uniqueIndex:idx_form_scope_slug;not null" json:"company_id"`
	ClientID              uint                            `gorm:"uniqueIndex:idx_form_scope_slug;not null" json:"client_id"`
	Name                  string                          `gorm:"not null" json:"name"`
	Slug                  string                          `gorm:"uniqueIndex:idx_form_scope_slug;not null" json:"slug"`
	Description           string                          `gorm:"type:text" json:"description"`
	Fields                datatypes.JSONSlice[FormField]  `json:"fields"`
	TicketRules           datatypes.JSONSlice[TicketRule] `json:"ticket_rules"`
	Published             bool                            `gorm:"default:false" json:"published"`
	RequireAuthentication bool                            `gorm:"default:false" json:"require_authentication"`
	ConfirmationMessage   string                          `json:"confirmation_message"`
	CreatedAt             time.Time                       `json:"created_at"`
	UpdatedAt             time.Time                       `json:"updated_at"`
	DeletedAt             gorm.DeletedAt                  `gorm:"index" json:"-"`
}

// Field 按 id 查找字段
func (f *Form) Field(id string) (FormField, bool) {
	for _, fd := range f.Fields {
		if fd.ID == id {
			return fd, true
		}
	}
	return FormField{}, false
}

// 表单提交记录；创建后仅允许回填 ticket_id 一次
type FormSubmission struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	CompanyID         uint              `gorm:"index;not null" json:"company_id"`
	FormID            uint              `gorm:"index;not null" json:"form_id"`
	SubmitterName     string            `json:"submitter_name"`
	SubmitterEmail    string            `json:"submitter_email"`
	SubmittedByUserID *uint             `json:"submitted_by_user_id"`
	PortalAccessID    *uint             `gorm:"index" json:"portal_access_id"`
	Data              datatypes.JSONMap `json:"data"`
	Description       string            `gorm:"type:text" json:"description"`
	TicketID          *uint             `gorm:"index" json:"ticket_id"`
	CreatedAt         time.Time         `json:"created_at"`

	Form *Form `gorm:"foreignKey:FormID" json:"form,omitempty"`
}
