package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core/messaging"
)

var messageColumns = []string{
	"id", "sender_id", "recipient_id", "subject", "content",
	"message_type", "priority", "is_read", "broadcast_id", "created_at",
}

type messageRow struct {
	ID          string      `db:"id"`
	SenderID    string      `db:"sender_id"`
	RecipientID string      `db:"recipient_id"`
	Subject     null.String `db:"subject"`
	Content     string      `db:"content"`
	Type        string      `db:"message_type"`
	Priority    string      `db:"priority"`
	IsRead      bool        `db:"is_read"`
	BroadcastID null.String `db:"broadcast_id"`
	CreatedAt   time.Time   `db:"created_at"`
}

func (row messageRow) toMessage() messaging.Message {
	return messaging.Message{
		ID:          row.ID,
		SenderID:    row.SenderID,
		RecipientID: row.RecipientID,
		Subject:     row.Subject.String,
		Content:     row.Content,
		Type:        row.Type,
		Priority:    row.Priority,
		IsRead:      row.IsRead,
		BroadcastID: row.BroadcastID.String,
		CreatedAt:   row.CreatedAt,
	}
}

type templateRow struct {
	ID      string      `db:"id"`
	Title   string      `db:"title"`
	Subject null.String `db:"subject"`
	Content string      `db:"content"`
	Type    string      `db:"template_type"`
}

func (row templateRow) toTemplate() messaging.Template {
	return messaging.Template{
		ID:      row.ID,
		Title:   row.Title,
		Subject: row.Subject.String,
		Content: row.Content,
		Type:    row.Type,
	}
}

type messagingRepository struct {
	db *sqlx.DB
}

var _ messaging.Repository = (*messagingRepository)(nil) // interface compliance check

func NewMessagingRepository(db *sqlx.DB) messaging.Repository {
	return &messagingRepository{db: db}
}

// CreateMessages inserts the whole batch inside one transaction; a failed
// insert rolls everything back so no partial broadcast is ever visible.
func (repo *messagingRepository) CreateMessages(ctx context.Context, msgs []messaging.Message) ([]messaging.Message, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	created := make([]messaging.Message, 0, len(msgs))
	for _, msg := range msgs {
		msg.ID = uuid.New().String()
		query, args, err := psql.Insert("message").
			Columns(messageColumns...).
			Values(
				msg.ID, msg.SenderID, msg.RecipientID,
				null.NewString(msg.Subject, msg.Subject != ""), msg.Content,
				msg.Type, msg.Priority, msg.IsRead,
				null.NewString(msg.BroadcastID, msg.BroadcastID != ""), msg.CreatedAt,
			).
			ToSql()
		if err != nil {
			return nil, errors.Wrap(err, "building query")
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return nil, errors.Wrap(err, "creating message")
		}
		created = append(created, msg)
	}

	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing messages")
	}
	return created, nil
}

func (repo *messagingRepository) GetMessageByID(ctx context.Context, id string) (messaging.Message, error) {
	query, args, err := psql.Select(messageColumns...).From("message").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return messaging.Message{}, errors.Wrap(err, "building query")
	}
	var row messageRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return messaging.Message{}, messaging.ErrNotFound
		}
		return messaging.Message{}, errors.Wrap(err, "getting message")
	}
	return row.toMessage(), nil
}

func (repo *messagingRepository) FilterMessages(ctx context.Context, filter messaging.ListFilter) ([]messaging.Message, error) {
	cols := make([]string, 0, len(messageColumns))
	for _, col := range messageColumns {
		cols = append(cols, "m."+col)
	}
	qb := psql.Select(cols...).From("message m")

	switch filter.Box {
	case messaging.BoxSent:
		qb = qb.Where(sq.Eq{"m.sender_id": filter.ActorID})
	case messaging.BoxReceived:
		qb = qb.Where(sq.Eq{"m.recipient_id": filter.ActorID})
	case messaging.BoxUnread:
		qb = qb.Where(sq.Eq{"m.recipient_id": filter.ActorID, "m.is_read": false})
	default: // BoxAll
		qb = qb.Where(sq.Or{sq.Eq{"m.sender_id": filter.ActorID}, sq.Eq{"m.recipient_id": filter.ActorID}})
	}

	if filter.Search != "" {
		// sender_id may hold the "system" sentinel so it only joins loosely
		qb = qb.
			LeftJoin(`"user" snd ON snd.id::text = m.sender_id`).
			LeftJoin(`"user" rcp ON rcp.id::text = m.recipient_id`)
		search := "%" + filter.Search + "%"
		qb = qb.Where(sq.Or{
			sq.ILike{"m.subject": search},
			sq.ILike{"m.content": search},
			sq.Expr(
				"(CASE WHEN m.sender_id = ? THEN rcp.name ELSE snd.name END) ILIKE ?",
				filter.ActorID, search,
			),
		})
	}

	qb = qb.OrderBy("m.created_at DESC", "m.id ASC")

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []messageRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	msgs := make([]messaging.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toMessage())
	}
	return msgs, nil
}

func (repo *messagingRepository) SetMessageRead(ctx context.Context, id string) (messaging.Message, error) {
	query, args, err := psql.Update("message").Set("is_read", true).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return messaging.Message{}, errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return messaging.Message{}, errors.Wrap(err, "marking message read")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return messaging.Message{}, messaging.ErrNotFound
	}
	return repo.GetMessageByID(ctx, id)
}

func (repo *messagingRepository) CountUnreadMessages(ctx context.Context, recipientID string) (int, error) {
	query, args, err := psql.Select("count(*)").From("message").
		Where(sq.Eq{"recipient_id": recipientID, "is_read": false}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}
	var cnt int
	if err = repo.db.GetContext(ctx, &cnt, query, args...); err != nil {
		return 0, errors.Wrap(err, "counting unread messages")
	}
	return cnt, nil
}

func (repo *messagingRepository) QueryTemplates(ctx context.Context) ([]messaging.Template, error) {
	query, args, err := psql.Select("id", "title", "subject", "content", "template_type").
		From("message_template").
		OrderBy("title ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []templateRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying templates")
	}
	tpls := make([]messaging.Template, 0, len(rows))
	for _, row := range rows {
		tpls = append(tpls, row.toTemplate())
	}
	return tpls, nil
}

func (repo *messagingRepository) GetTemplateByID(ctx context.Context, id string) (messaging.Template, error) {
	query, args, err := psql.Select("id", "title", "subject", "content", "template_type").
		From("message_template").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return messaging.Template{}, errors.Wrap(err, "building query")
	}
	var row templateRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return messaging.Template{}, messaging.ErrTemplateNotFound
		}
		return messaging.Template{}, errors.Wrap(err, "getting template")
	}
	return row.toTemplate(), nil
}

func (repo *messagingRepository) CreateTemplate(ctx context.Context, tpl messaging.Template) (messaging.Template, error) {
	tpl.ID = uuid.New().String()
	if tpl.Type == "" {
		tpl.Type = messaging.TemplateOther
	}
	query, args, err := psql.Insert("message_template").
		Columns("id", "title", "subject", "content", "template_type").
		Values(tpl.ID, tpl.Title, null.NewString(tpl.Subject, tpl.Subject != ""), tpl.Content, tpl.Type).
		ToSql()
	if err != nil {
		return messaging.Template{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return messaging.Template{}, errors.Wrap(err, "creating template")
	}
	return tpl, nil
}
