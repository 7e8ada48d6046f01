package messaging

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
)

// SystemSender is the sentinel sender ID for messages that do not originate from a human actor.
const SystemSender = "system"

// Message types
const (
	TypeAdminBroadcast = "admin_broadcast"
	TypeSystem         = "system"
	TypeSupport        = "support"
	TypeDirect         = "direct"
)

// Priorities
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

var (
	AllTypes      = []string{TypeAdminBroadcast, TypeSystem, TypeSupport, TypeDirect}
	AllPriorities = []string{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}
)

// Message is one persisted row addressed to exactly one recipient.
// Broadcasts fan out into N rows sharing a BroadcastID; each row's
// read state belongs to its own recipient alone.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Subject     string    `json:"subject,omitempty"`
	Content     string    `json:"content"`
	Type        string    `json:"message_type"`
	Priority    string    `json:"priority"`
	IsRead      bool      `json:"is_read"`
	BroadcastID string    `json:"broadcast_id,omitempty"`
	CreatedAt   time.Time `json:"sent_at"` // UTC; immutable
}

// Template types
const (
	TemplateWelcome      = "welcome"
	TemplateAnnouncement = "announcement"
	TemplateReminder     = "reminder"
	TemplateOther        = "other"
)

var AllTemplateTypes = []string{TemplateWelcome, TemplateAnnouncement, TemplateReminder, TemplateOther}

// Template is a reusable (subject, content) pair an admin can select to pre-fill a draft.
type Template struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Subject string `json:"subject"`
	Content string `json:"content"`
	Type    string `json:"template_type"`
}

// Audience kinds
type AudienceKind string

const (
	AudienceAll      AudienceKind = "all"
	AudienceRole     AudienceKind = "role"
	AudienceSector   AudienceKind = "sector"
	AudienceExplicit AudienceKind = "explicit"
)

// Audience declares who should receive a message. It is transient: resolution
// into concrete recipients happens once, at send time, and is never re-evaluated.
type Audience struct {
	Kind         AudienceKind
	Role         string   // Kind == AudienceRole; a role prefix (user.RoleStudent, user.RoleMentor)
	Sector       string   // Kind == AudienceSector
	RecipientIDs []string // Kind == AudienceExplicit
}

func AllAudience() Audience {
	return Audience{Kind: AudienceAll}
}

func RoleAudience(role string) Audience {
	return Audience{Kind: AudienceRole, Role: role}
}

func SectorAudience(name string) Audience {
	return Audience{Kind: AudienceSector, Sector: name}
}

func ExplicitAudience(ids ...string) Audience {
	return Audience{Kind: AudienceExplicit, RecipientIDs: ids}
}

// NewMessage is a compose draft.
type NewMessage struct {
	Subject  string   `json:"subject"`
	Content  string   `json:"content" validate:"required"`
	Type     string   `json:"message_type" validate:"omitempty,msgtype"`
	Priority string   `json:"priority" validate:"omitempty,msgpriority"`
	Audience Audience `json:"-"`
}

func (nm *NewMessage) Validate(validate *validator.Validate) error {
	nm.Subject = core.CleanString(nm.Subject)
	nm.Content = strings.TrimSpace(nm.Content)
	if nm.Type == "" {
		nm.Type = TypeDirect
	}
	if nm.Priority == "" {
		nm.Priority = PriorityNormal
	}
	return validate.Struct(nm)
}

// ApplyTemplate copies the template's subject and content into the draft;
// audience, type and priority are left untouched and the template is never mutated.
func (nm *NewMessage) ApplyTemplate(tpl Template) {
	nm.Subject = tpl.Subject
	nm.Content = tpl.Content
}

// Receipt reports the outcome of a successful send.
type Receipt struct {
	RecipientCount int    `json:"recipient_count"`
	BroadcastID    string `json:"broadcast_id,omitempty"`
}

// Inbox boxes
const (
	BoxAll      = "all"
	BoxSent     = "sent"
	BoxReceived = "received"
	BoxUnread   = "unread"
)

// InboxFilter scopes a listing to one box of the acting user's inbox.
// Search composes with the box filter, it never replaces it.
type InboxFilter struct {
	Box    string `json:"box" query:"box" validate:"omitempty,inboxbox"`
	Search string `json:"search" query:"search"`
}

func (f *InboxFilter) Validate(validate *validator.Validate) error {
	f.Clean()
	return validate.Struct(f)
}

func (f *InboxFilter) Clean() {
	f.Box = core.CleanString(f.Box, true /* lower */)
	if f.Box == "" {
		f.Box = BoxAll
	}
	f.Search = core.CleanString(f.Search)
}

// ListFilter is the repository-level query derived from an InboxFilter.
// Search does a case-insensitive substring match on Subject, Content or
// the counterparty's name.
type ListFilter struct {
	ActorID string
	Box     string
	Search  string
}
