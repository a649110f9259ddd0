package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	TicketStatusOpen       = "open"
	TicketStatusPending    = "pending"
	TicketStatusInProgress = "in_progress"
	TicketStatusResolved   = "resolved"
	TicketStatusClosed     = "closed"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"

	SourceWeb    = "web"
	SourceForm   = "form"
	SourceEmail  = "email"
	SourcePortal = "portal"

	ExternalTypeFormSubmission = "form_submission"
	ExternalTypeGmailThread    = "gmail_thread"
)

// ValidStatus 判断工单状态是否合法
func ValidStatus(s string) bool {
	switch s {
	case TicketStatusOpen, TicketStatusPending, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// ValidPriority 判断优先级是否合法
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// 工单模型
type Ticket struct {
	ID             uint    `gorm:"primaryKey" json:"id"`
	CompanyID      uint    `gorm:"index;not null" json:"company_id"`
	ClientID       uint    `gorm:"index;not null" json:"client_id"`
	Subject        string  `gorm:"not null" json:"subject"`
	Description    string  `gorm:"type:text" json:"description"`
	Status         string  `gorm:"default:'open';index" json:"status"`     // open, pending, in_progress, resolved, closed
	Priority       string  `gorm:"default:'medium';index" json:"priority"` // low, medium, high, urgent
	Source         string  `gorm:"default:'web'" json:"source"`            // web, form, email, portal
	AssigneeID     *uint   `gorm:"index" json:"assignee_id"`
	PortalAccessID *uint   `gorm:"index" json:"portal_access_id"`
	CreatedByID    *uint   `json:"created_by_id"`
	RequesterName  string  `json:"requester_name"`
	RequesterEmail string  `gorm:"index" json:"requester_email"`
	ExternalID     string  `gorm:"index:idx_ticket_external" json:"external_id,omitempty"`
	ExternalType   string  `gorm:"index:idx_ticket_external" json:"external_type,omitempty"`
	SLAPolicyID    *uint   `json:"sla_policy_id"`

	FirstResponseDueAt *time.Time     `json:"first_response_due_at"`
	ResolutionDueAt    *time.Time     `json:"resolution_due_at"`
	FirstRespondedAt   *time.Time     `json:"first_responded_at"`
	ResolvedAt         *time.Time     `json:"resolved_at"`
	ClosedAt           *time.Time     `json:"closed_at"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`

	// 关联关系
	Client        *Client              `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Assignee      *User                `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
	PortalAccess  *PortalAccess        `gorm:"foreignKey:PortalAccessID" json:"portal_access,omitempty"`
	Comments      []TicketComment      `gorm:"foreignKey:TicketID" json:"comments,omitempty"`
	Attachments   []TicketAttachment   `gorm:"foreignKey:TicketID" json:"attachments,omitempty"`
	StatusHistory []TicketStatusChange `gorm:"foreignKey:TicketID" json:"status_history,omitempty"`
}

// 工单评论；作者为员工或门户用户之一
type TicketComment struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	TicketID             uint      `gorm:"index;not null" json:"ticket_id"`
	AuthorUserID         *uint     `gorm:"index" json:"author_user_id"`
	AuthorPortalAccessID *uint     `gorm:"index" json:"author_portal_access_id"`
	AuthorName           string    `json:"author_name"`
	AuthorEmail          string    `json:"author_email"`
	Body                 string    `gorm:"type:text;not null" json:"body"`
	Internal             bool      `gorm:"default:false" json:"internal"`
	Source               string    `gorm:"default:'web'" json:"source"`
	ExternalID           string    `gorm:"index" json:"external_id,omitempty"` // gmail message id
	CreatedAt            time.Time `json:"created_at"`

	Attachments []TicketAttachment `gorm:"foreignKey:CommentID" json:"attachments,omitempty"`
}

// 工单状态历史
type TicketStatusChange struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TicketID   uint      `gorm:"index;not null" json:"ticket_id"`
	UserID     *uint     `json:"user_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// 工单附件，内容保存在对象存储中
type TicketAttachment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	TicketID    uint      `gorm:"index;not null" json:"ticket_id"`
	CommentID   *uint     `gorm:"index" json:"comment_id"`
	FileName    string    `gorm:"not null" json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	ObjectKey   string    `gorm:"not null" json:"object_key"`
	CreatedAt   time.Time `json:"created_at"`
}
