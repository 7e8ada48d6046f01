package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/messaging"
)

var errInsertFailed = errors.New("insert failed")

type messagingRepository struct {
	db *DB
}

var _ messaging.Repository = (*messagingRepository)(nil) // interface compliance check

func NewMessagingRepository(db *DB) messaging.Repository {
	return &messagingRepository{db: db}
}

func (repo *messagingRepository) CreateMessages(ctx context.Context, msgs []messaging.Message) ([]messaging.Message, error) {
	repo.db.message.Lock()
	defer repo.db.message.Unlock()

	// stage the whole batch first; nothing is committed until every row succeeds
	staged := make([]messaging.Message, 0, len(msgs))
	for i, msg := range msgs {
		if repo.db.message.failAfter >= 0 && i >= repo.db.message.failAfter {
			repo.db.message.failAfter = -1
			return nil, errInsertFailed
		}
		msg.ID = uuid.New().String()
		staged = append(staged, msg)
	}

	for i := range staged {
		msg := staged[i]
		repo.db.message.table[msg.ID] = &msg
	}
	return staged, nil
}

func (repo *messagingRepository) GetMessageByID(ctx context.Context, id string) (messaging.Message, error) {
	repo.db.message.RLock()
	defer repo.db.message.RUnlock()

	if msg, ok := repo.db.message.table[id]; ok {
		return *msg, nil
	}
	return messaging.Message{}, messaging.ErrNotFound
}

func (repo *messagingRepository) FilterMessages(ctx context.Context, filter messaging.ListFilter) ([]messaging.Message, error) {
	repo.db.message.RLock()
	defer repo.db.message.RUnlock()

	msgs := make([]messaging.Message, 0)
	for _, msg := range repo.db.message.table {
		if !inBox(*msg, filter.ActorID, filter.Box) {
			continue
		}
		if filter.Search != "" && !repo.matchesSearch(*msg, filter.ActorID, filter.Search) {
			continue
		}
		msgs = append(msgs, *msg)
	}

	// deterministic default order: newest first, ID breaks ties
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func inBox(msg messaging.Message, actorID, box string) bool {
	switch box {
	case messaging.BoxSent:
		return msg.SenderID == actorID
	case messaging.BoxReceived:
		return msg.RecipientID == actorID
	case messaging.BoxUnread:
		return msg.RecipientID == actorID && !msg.IsRead
	default: // BoxAll
		return msg.SenderID == actorID || msg.RecipientID == actorID
	}
}

func (repo *messagingRepository) matchesSearch(msg messaging.Message, actorID, search string) bool {
	search = strings.ToLower(search)
	if strings.Contains(strings.ToLower(msg.Subject), search) ||
		strings.Contains(strings.ToLower(msg.Content), search) {
		return true
	}

	counterpartyID := msg.SenderID
	if msg.SenderID == actorID {
		counterpartyID = msg.RecipientID
	}

	repo.db.user.RLock()
	defer repo.db.user.RUnlock()
	if usr, ok := repo.db.user.table[counterpartyID]; ok {
		return strings.Contains(strings.ToLower(usr.Name), search)
	}
	return false
}

func (repo *messagingRepository) SetMessageRead(ctx context.Context, id string) (messaging.Message, error) {
	repo.db.message.Lock()
	defer repo.db.message.Unlock()

	msg, ok := repo.db.message.table[id]
	if !ok {
		return messaging.Message{}, messaging.ErrNotFound
	}
	msg.IsRead = true
	return *msg, nil
}

func (repo *messagingRepository) CountUnreadMessages(ctx context.Context, recipientID string) (int, error) {
	repo.db.message.RLock()
	defer repo.db.message.RUnlock()

	var cnt int
	for _, msg := range repo.db.message.table {
		if msg.RecipientID == recipientID && !msg.IsRead {
			cnt++
		}
	}
	return cnt, nil
}

func (repo *messagingRepository) QueryTemplates(ctx context.Context) ([]messaging.Template, error) {
	repo.db.template.RLock()
	defer repo.db.template.RUnlock()

	tpls := make([]messaging.Template, 0, len(repo.db.template.table))
	for _, tpl := range repo.db.template.table {
		tpls = append(tpls, *tpl)
	}
	sort.Slice(tpls, func(i, j int) bool { return tpls[i].Title < tpls[j].Title })
	return tpls, nil
}

func (repo *messagingRepository) GetTemplateByID(ctx context.Context, id string) (messaging.Template, error) {
	repo.db.template.RLock()
	defer repo.db.template.RUnlock()

	if tpl, ok := repo.db.template.table[id]; ok {
		return *tpl, nil
	}
	return messaging.Template{}, messaging.ErrTemplateNotFound
}

func (repo *messagingRepository) CreateTemplate(ctx context.Context, tpl messaging.Template) (messaging.Template, error) {
	repo.db.template.Lock()
	defer repo.db.template.Unlock()

	tpl.ID = uuid.New().String()
	repo.db.template.table[tpl.ID] = &tpl
	return tpl, nil
}
