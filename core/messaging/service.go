package messaging

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

var (
	// errors
	ErrNotFound         = errors.New("message not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrNoRecipients     = errors.New("no recipients could be resolved for this audience")
	ErrNotRecipient     = errors.New("only the recipient of a message may mark it read")
)

// DeliveryError reports a fan-out batch that failed at the persistence layer.
// The whole batch is rolled back before it surfaces: no partial broadcast
// remains, so retrying the send in full is always safe.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return "message delivery failed: " + e.Err.Error()
}

// Unwrap exposes the repo error for inspection. DeliveryError deliberately
// has no Cause method: errors.Cause must stop here so callers can match
// the delivery failure itself, not the driver error underneath.
func (e *DeliveryError) Unwrap() error { return e.Err }

type (
	Repository interface {
		// CreateMessages persists all messages as a single atomic batch:
		// if any insert fails, none of the batch remains visible.
		CreateMessages(ctx context.Context, msgs []Message) ([]Message, error)
		GetMessageByID(ctx context.Context, id string) (Message, error)
		FilterMessages(ctx context.Context, filter ListFilter) ([]Message, error)
		SetMessageRead(ctx context.Context, id string) (Message, error)
		CountUnreadMessages(ctx context.Context, recipientID string) (int, error)

		QueryTemplates(ctx context.Context) ([]Template, error)
		GetTemplateByID(ctx context.Context, id string) (Template, error)
		CreateTemplate(ctx context.Context, tpl Template) (Template, error)
	}

	Service interface {
		// Send resolves the draft's audience and fans the message out,
		// one row per recipient, as a single atomic batch.
		Send(ctx context.Context, sender user.User, nm NewMessage) (Receipt, error)
		// SendSystem sends on behalf of the system sender sentinel.
		SendSystem(ctx context.Context, nm NewMessage) (Receipt, error)
		Query(ctx context.Context, actor user.User, filter InboxFilter) ([]Message, error)
		MarkRead(ctx context.Context, actor user.User, id string) (Message, error)
		UnreadCount(ctx context.Context, actor user.User) (int, error)
		QueryTemplates(ctx context.Context) ([]Template, error)
		GetTemplate(ctx context.Context, id string) (Template, error)
	}

	service struct {
		repo    Repository
		usrRepo user.Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, usrRepo user.Repository) Service {
	return &service{
		repo:    repo,
		usrRepo: usrRepo,
	}
}

func (svc *service) Send(ctx context.Context, sender user.User, nm NewMessage) (Receipt, error) {
	// fail fast: no resolution happens for an empty draft
	nm.Content = strings.TrimSpace(nm.Content)
	if nm.Content == "" {
		return Receipt{}, core.NewValidationError(
			errors.New("message content is required"),
			core.FieldError{Field: "content", Error: "this field is required"},
		)
	}
	if nm.Type == "" {
		nm.Type = TypeDirect
	}
	if nm.Priority == "" {
		nm.Priority = PriorityNormal
	}

	recipients, err := svc.resolve(ctx, sender.ID, nm.Audience)
	if err != nil {
		return Receipt{}, err
	}

	now := time.Now().UTC()
	broadcastID := uuid.New().String()
	msgs := make([]Message, 0, len(recipients))
	for _, rid := range recipients {
		msgs = append(msgs, Message{
			SenderID:    sender.ID,
			RecipientID: rid,
			Subject:     nm.Subject,
			Content:     nm.Content,
			Type:        nm.Type,
			Priority:    nm.Priority,
			BroadcastID: broadcastID,
			CreatedAt:   now,
		})
	}

	created, err := svc.repo.CreateMessages(ctx, msgs)
	if err != nil {
		return Receipt{}, &DeliveryError{Err: err}
	}
	return Receipt{RecipientCount: len(created), BroadcastID: broadcastID}, nil
}

func (svc *service) SendSystem(ctx context.Context, nm NewMessage) (Receipt, error) {
	if nm.Type == "" {
		nm.Type = TypeSystem
	}
	return svc.Send(ctx, user.User{ID: SystemSender}, nm)
}

// resolve materializes an audience into a de-duplicated set of addressable
// recipient IDs. The result is a point-in-time snapshot: membership changes
// after the send never affect already-created rows.
func (svc *service) resolve(ctx context.Context, senderID string, aud Audience) ([]string, error) {
	switch aud.Kind {
	case AudienceExplicit:
		seen := make(map[string]bool, len(aud.RecipientIDs))
		ids := make([]string, 0, len(aud.RecipientIDs))
		for _, id := range aud.RecipientIDs {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			usr, err := svc.usrRepo.GetUser(ctx, user.GetFilter{ID: id})
			if err != nil {
				if errors.Cause(err) == user.ErrNotFound {
					// unknown ids are dropped silently; the send proceeds
					// as long as at least one valid recipient remains
					continue
				}
				return nil, errors.Wrap(err, "resolving recipient")
			}
			if !usr.Active() {
				continue
			}
			ids = append(ids, usr.ID)
		}
		if len(ids) == 0 {
			return nil, ErrNoRecipients
		}
		return ids, nil

	case AudienceAll, AudienceRole, AudienceSector:
		filter := &user.QueryFilter{}
		filter.IsActive = boolPtr(true)
		switch aud.Kind {
		case AudienceRole:
			filter.Roles = []string{aud.Role}
		case AudienceSector:
			// a sector with no current enrollments is a valid, empty
			// audience; it resolves to ErrNoRecipients below
			filter.Sector = aud.Sector
		}
		users, err := svc.usrRepo.QueryUsers(ctx, filter, nil)
		if err != nil {
			return nil, errors.Wrap(err, "resolving audience")
		}
		ids := make([]string, 0, len(users))
		for _, usr := range users {
			if usr.ID == senderID { // self-exclusion
				continue
			}
			ids = append(ids, usr.ID)
		}
		if len(ids) == 0 {
			return nil, ErrNoRecipients
		}
		return ids, nil

	default:
		return nil, ErrNoRecipients
	}
}

func (svc *service) Query(ctx context.Context, actor user.User, filter InboxFilter) ([]Message, error) {
	filter.Clean()
	msgs, err := svc.repo.FilterMessages(ctx, ListFilter{
		ActorID: actor.ID,
		Box:     filter.Box,
		Search:  filter.Search,
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	SortInbox(msgs)
	return msgs, nil
}

func (svc *service) MarkRead(ctx context.Context, actor user.User, id string) (Message, error) {
	msg, err := svc.repo.GetMessageByID(ctx, id)
	if err != nil {
		return Message{}, err
	}
	if msg.RecipientID != actor.ID {
		return Message{}, ErrNotRecipient
	}
	if msg.IsRead { // idempotent
		return msg, nil
	}
	return svc.repo.SetMessageRead(ctx, id)
}

func (svc *service) UnreadCount(ctx context.Context, actor user.User) (int, error) {
	return svc.repo.CountUnreadMessages(ctx, actor.ID)
}

func (svc *service) QueryTemplates(ctx context.Context) ([]Template, error) {
	return svc.repo.QueryTemplates(ctx)
}

func (svc *service) GetTemplate(ctx context.Context, id string) (Template, error) {
	return svc.repo.GetTemplateByID(ctx, id)
}

func boolPtr(b bool) *bool { return &b }
