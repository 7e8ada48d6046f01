package messaging_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/messaging"
	"github.com/trezcool/darasa/core/user"
	dummydb "github.com/trezcool/darasa/storage/database/dummy"
	testutil "github.com/trezcool/darasa/tests"
)

type testEnv struct {
	db      *dummydb.DB
	usrRepo user.Repository
	msgRepo messaging.Repository
	svc     messaging.Service
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	db, err := dummydb.Open()
	require.NoError(t, err)

	usrRepo := dummydb.NewUserRepository(db)
	msgRepo := dummydb.NewMessagingRepository(db)
	return &testEnv{
		db:      db,
		usrRepo: usrRepo,
		msgRepo: msgRepo,
		svc:     messaging.NewService(msgRepo, usrRepo),
	}
}

func (env *testEnv) admin(t *testing.T) user.User {
	return testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@test.cd", "", user.AdminRoles, true)
}

func Test_service_Send_fanOut(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	admin := env.admin(t)
	eid := testutil.CreateStudent(t, env.usrRepo, "Eid", "eid", "Engineering")
	ada := testutil.CreateStudent(t, env.usrRepo, "Ada", "ada", "Engineering")
	zoe := testutil.CreateStudent(t, env.usrRepo, "Zoe", "zoe", "Design")
	mentor1 := testutil.CreateUser(t, env.usrRepo, "Mentor One", "mentor1", "m1@test.cd", "", user.MentorRoles, true)
	mentor2 := testutil.CreateUser(t, env.usrRepo, "Mentor Two", "mentor2", "m2@test.cd", "", user.MentorRoles, true)

	receipt, err := env.svc.Send(ctx, admin, messaging.NewMessage{
		Subject:  "Eid Mubarak",
		Content:  "School is closed tomorrow.",
		Type:     messaging.TypeAdminBroadcast,
		Priority: messaging.PriorityHigh,
		Audience: messaging.RoleAudience(user.RoleStudent),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, receipt.RecipientCount)
	assert.NotEmpty(t, receipt.BroadcastID)

	// one row per student, none for mentors nor the sender
	for _, usr := range []user.User{eid, ada, zoe} {
		cnt, err := env.svc.UnreadCount(ctx, usr)
		require.NoError(t, err)
		assert.Equal(t, 1, cnt, usr.Username)
	}
	for _, usr := range []user.User{mentor1, mentor2, admin} {
		cnt, err := env.svc.UnreadCount(ctx, usr)
		require.NoError(t, err)
		assert.Equal(t, 0, cnt, usr.Username)
	}

	// all rows share the broadcast ID
	msgs, err := env.svc.Query(ctx, eid, messaging.InboxFilter{Box: messaging.BoxReceived})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, receipt.BroadcastID, msgs[0].BroadcastID)
	assert.Equal(t, admin.ID, msgs[0].SenderID)
	assert.Equal(t, messaging.TypeAdminBroadcast, msgs[0].Type)
	assert.Equal(t, messaging.PriorityHigh, msgs[0].Priority)
	assert.False(t, msgs[0].IsRead)
}

func Test_service_Send_audiences(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	admin := env.admin(t)
	eng := testutil.CreateStudent(t, env.usrRepo, "Eng Student", "engstud", "Engineering")
	testutil.CreateStudent(t, env.usrRepo, "Design Student", "desstud", "Design")
	mentor := testutil.CreateUser(t, env.usrRepo, "Mentor", "mentor", "mentor@test.cd", "", user.MentorRoles, true)
	inactive := testutil.CreateUser(t, env.usrRepo, "Gone", "gone", "gone@test.cd", "", user.StudentRoles, false)

	t.Run("all excludes sender and inactive", func(t *testing.T) {
		receipt, err := env.svc.Send(ctx, admin, messaging.NewMessage{
			Content:  "hello all",
			Audience: messaging.AllAudience(),
		})
		require.NoError(t, err)
		assert.Equal(t, 3, receipt.RecipientCount) // eng, design, mentor

		cnt, err := env.svc.UnreadCount(ctx, inactive)
		require.NoError(t, err)
		assert.Equal(t, 0, cnt)
	})

	t.Run("sector is case-insensitive", func(t *testing.T) {
		receipt, err := env.svc.Send(ctx, admin, messaging.NewMessage{
			Content:  "engineering only",
			Audience: messaging.SectorAudience("engineering"),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, receipt.RecipientCount)
	})

	t.Run("unknown sector resolves to no recipients", func(t *testing.T) {
		_, err := env.svc.Send(ctx, admin, messaging.NewMessage{
			Content:  "anyone there?",
			Audience: messaging.SectorAudience("Astrology"),
		})
		assert.Equal(t, messaging.ErrNoRecipients, err)
	})

	t.Run("explicit dedups and drops unknown ids", func(t *testing.T) {
		receipt, err := env.svc.Send(ctx, mentor, messaging.NewMessage{
			Content:  "direct note",
			Audience: messaging.ExplicitAudience(eng.ID, eng.ID, "b5bd4c66-071b-4df8-8358-36c58e04baa1", inactive.ID),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, receipt.RecipientCount)
	})

	t.Run("explicit does not exclude the sender", func(t *testing.T) {
		receipt, err := env.svc.Send(ctx, mentor, messaging.NewMessage{
			Content:  "note to self",
			Audience: messaging.ExplicitAudience(mentor.ID),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, receipt.RecipientCount)
	})

	t.Run("explicit with only unknown ids fails", func(t *testing.T) {
		_, err := env.svc.Send(ctx, mentor, messaging.NewMessage{
			Content:  "void",
			Audience: messaging.ExplicitAudience("b5bd4c66-071b-4df8-8358-36c58e04baa1"),
		})
		assert.Equal(t, messaging.ErrNoRecipients, err)
	})

	t.Run("empty audience fails", func(t *testing.T) {
		_, err := env.svc.Send(ctx, admin, messaging.NewMessage{Content: "lost"})
		assert.Equal(t, messaging.ErrNoRecipients, err)
	})
}

func Test_service_Send_emptyContent(t *testing.T) {
	env := setup(t)
	admin := env.admin(t)
	testutil.CreateStudent(t, env.usrRepo, "Student", "student", "")

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := env.svc.Send(context.Background(), admin, messaging.NewMessage{
			Content:  content,
			Audience: messaging.AllAudience(),
		})
		_, ok := err.(*core.ValidationError)
		require.True(t, ok, "want ValidationError, got %v", err)
	}

	// fail-fast: nothing was delivered
	msgs, err := env.svc.Query(context.Background(), admin, messaging.InboxFilter{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func Test_service_Send_atomicity(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	admin := env.admin(t)
	students := []user.User{
		testutil.CreateStudent(t, env.usrRepo, "One", "stud1", ""),
		testutil.CreateStudent(t, env.usrRepo, "Two", "stud2", ""),
		testutil.CreateStudent(t, env.usrRepo, "Three", "stud3", ""),
	}

	env.db.FailMessageCreateAfter(2)
	_, err := env.svc.Send(ctx, admin, messaging.NewMessage{
		Content:  "doomed broadcast",
		Audience: messaging.AllAudience(),
	})
	_, ok := err.(*messaging.DeliveryError)
	require.True(t, ok, "want DeliveryError, got %v", err)

	// no partial fan-out: zero rows are visible and a retry delivers in full
	for _, usr := range students {
		cnt, err := env.svc.UnreadCount(ctx, usr)
		require.NoError(t, err)
		assert.Equal(t, 0, cnt, usr.Username)
	}

	receipt, err := env.svc.Send(ctx, admin, messaging.NewMessage{
		Content:  "doomed broadcast",
		Audience: messaging.AllAudience(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, receipt.RecipientCount)
}

func Test_service_Send_snapshotIsolation(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	admin := env.admin(t)
	stud := testutil.CreateStudent(t, env.usrRepo, "Student", "student", "")

	receipt, err := env.svc.Send(ctx, admin, messaging.NewMessage{
		Content:  "students only",
		Audience: messaging.RoleAudience(user.RoleStudent),
	})
	require.NoError(t, err)
	require.Equal(t, 1, receipt.RecipientCount)

	// promoting the recipient afterwards does not claw the message back
	_, err = env.usrRepo.UpdateUser(ctx, user.User{ID: stud.ID, Roles: user.MentorRoles}, nil, nil)
	require.NoError(t, err)

	cnt, err := env.svc.UnreadCount(ctx, stud)
	require.NoError(t, err)
	assert.Equal(t, 1, cnt)

	// and a user enrolled after the send never receives it
	late := testutil.CreateStudent(t, env.usrRepo, "Late", "late", "")
	cnt, err = env.svc.UnreadCount(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, 0, cnt)
}

func Test_service_SendSystem(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	stud := testutil.CreateStudent(t, env.usrRepo, "Student", "student", "")

	receipt, err := env.svc.SendSystem(ctx, messaging.NewMessage{
		Content:  "Welcome to Darasa!",
		Audience: messaging.ExplicitAudience(stud.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.RecipientCount)

	msgs, err := env.svc.Query(ctx, stud, messaging.InboxFilter{Box: messaging.BoxReceived})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, messaging.SystemSender, msgs[0].SenderID)
	assert.Equal(t, messaging.TypeSystem, msgs[0].Type)
}

func Test_service_MarkRead(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	admin := env.admin(t)
	eid := testutil.CreateStudent(t, env.usrRepo, "Eid", "eid", "")
	ada := testutil.CreateStudent(t, env.usrRepo, "Ada", "ada", "")

	_, err := env.svc.Send(ctx, admin, messaging.NewMessage{
		Content:  "read me",
		Audience: messaging.RoleAudience(user.RoleStudent),
	})
	require.NoError(t, err)

	eidMsgs, err := env.svc.Query(ctx, eid, messaging.InboxFilter{Box: messaging.BoxReceived})
	require.NoError(t, err)
	require.Len(t, eidMsgs, 1)

	t.Run("read state is per recipient", func(t *testing.T) {
		msg, err := env.svc.MarkRead(ctx, eid, eidMsgs[0].ID)
		require.NoError(t, err)
		assert.True(t, msg.IsRead)

		cnt, err := env.svc.UnreadCount(ctx, eid)
		require.NoError(t, err)
		assert.Equal(t, 0, cnt)

		// Ada's copy of the broadcast is untouched
		cnt, err = env.svc.UnreadCount(ctx, ada)
		require.NoError(t, err)
		assert.Equal(t, 1, cnt)
	})

	t.Run("idempotent", func(t *testing.T) {
		msg, err := env.svc.MarkRead(ctx, eid, eidMsgs[0].ID)
		require.NoError(t, err)
		assert.True(t, msg.IsRead)
	})

	t.Run("only the recipient may mark read", func(t *testing.T) {
		_, err := env.svc.MarkRead(ctx, ada, eidMsgs[0].ID)
		assert.Equal(t, messaging.ErrNotRecipient, err)

		// not even the sender
		_, err = env.svc.MarkRead(ctx, admin, eidMsgs[0].ID)
		assert.Equal(t, messaging.ErrNotRecipient, err)
	})

	t.Run("unknown message", func(t *testing.T) {
		_, err := env.svc.MarkRead(ctx, eid, "b5bd4c66-071b-4df8-8358-36c58e04baa1")
		assert.Equal(t, messaging.ErrNotFound, err)
	})
}

func Test_service_Query(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	admin := env.admin(t)
	eid := testutil.CreateStudent(t, env.usrRepo, "Eid Hassan", "eid", "")
	ada := testutil.CreateStudent(t, env.usrRepo, "Ada Lovelace", "ada", "")

	now := time.Now().UTC()
	testutil.CreateMessage(t, env.msgRepo, admin.ID, eid.ID, "Schedule", "Class moved to 10am", now.Add(-2*time.Hour))
	testutil.CreateMessage(t, env.msgRepo, eid.ID, ada.ID, "Homework", "See attached notes", now.Add(-time.Hour))
	testutil.CreateMessage(t, env.msgRepo, ada.ID, eid.ID, "Re: Homework", "Thanks!", now)

	t.Run("received box", func(t *testing.T) {
		msgs, err := env.svc.Query(ctx, eid, messaging.InboxFilter{Box: messaging.BoxReceived})
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})

	t.Run("sent box", func(t *testing.T) {
		msgs, err := env.svc.Query(ctx, eid, messaging.InboxFilter{Box: messaging.BoxSent})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "Homework", msgs[0].Subject)
	})

	t.Run("all box defaults", func(t *testing.T) {
		msgs, err := env.svc.Query(ctx, eid, messaging.InboxFilter{})
		require.NoError(t, err)
		assert.Len(t, msgs, 3)
	})

	t.Run("unread box shrinks as messages are read", func(t *testing.T) {
		msgs, err := env.svc.Query(ctx, eid, messaging.InboxFilter{Box: messaging.BoxUnread})
		require.NoError(t, err)
		require.Len(t, msgs, 2)

		_, err = env.svc.MarkRead(ctx, eid, msgs[0].ID)
		require.NoError(t, err)

		msgs, err = env.svc.Query(ctx, eid, messaging.InboxFilter{Box: messaging.BoxUnread})
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("search matches subject, content and counterparty name", func(t *testing.T) {
		msgs, err := env.svc.Query(ctx, eid, messaging.InboxFilter{Search: "homework"})
		require.NoError(t, err)
		assert.Len(t, msgs, 2)

		msgs, err = env.svc.Query(ctx, eid, messaging.InboxFilter{Search: "10am"})
		require.NoError(t, err)
		assert.Len(t, msgs, 1)

		// counterparty: Ada is the sender of one and recipient of another
		msgs, err = env.svc.Query(ctx, eid, messaging.InboxFilter{Search: "lovelace"})
		require.NoError(t, err)
		assert.Len(t, msgs, 2)

		msgs, err = env.svc.Query(ctx, eid, messaging.InboxFilter{Search: "nothing here"})
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("search composes with box", func(t *testing.T) {
		msgs, err := env.svc.Query(ctx, eid, messaging.InboxFilter{Box: messaging.BoxSent, Search: "thanks"})
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func Test_service_Query_priorityOrdering(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	admin := env.admin(t)
	stud := testutil.CreateStudent(t, env.usrRepo, "Student", "student", "")

	send := func(content, priority string) {
		_, err := env.svc.Send(ctx, admin, messaging.NewMessage{
			Content:  content,
			Priority: priority,
			Audience: messaging.ExplicitAudience(stud.ID),
		})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	send("old low", messaging.PriorityLow)
	send("old urgent", messaging.PriorityUrgent)
	send("newer normal", messaging.PriorityNormal)
	send("newest urgent", messaging.PriorityUrgent)

	msgs, err := env.svc.Query(ctx, stud, messaging.InboxFilter{Box: messaging.BoxReceived})
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	// urgent first, newest first within the same tier
	assert.Equal(t, "newest urgent", msgs[0].Content)
	assert.Equal(t, "old urgent", msgs[1].Content)
	assert.Equal(t, "newer normal", msgs[2].Content)
	assert.Equal(t, "old low", msgs[3].Content)
}

func Test_service_templates(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	admin := env.admin(t)
	stud := testutil.CreateStudent(t, env.usrRepo, "Student", "student", "")

	tpl := testutil.CreateTemplate(t, env.msgRepo, "Exam Reminder", "Exams ahead", "Exams start next week.", messaging.TemplateReminder)
	testutil.CreateTemplate(t, env.msgRepo, "Welcome", "Karibu!", "Welcome aboard.", messaging.TemplateWelcome)

	t.Run("list and get", func(t *testing.T) {
		tpls, err := env.svc.QueryTemplates(ctx)
		require.NoError(t, err)
		assert.Len(t, tpls, 2)

		got, err := env.svc.GetTemplate(ctx, tpl.ID)
		require.NoError(t, err)
		assert.Equal(t, tpl, got)

		_, err = env.svc.GetTemplate(ctx, "b5bd4c66-071b-4df8-8358-36c58e04baa1")
		assert.Equal(t, messaging.ErrTemplateNotFound, err)
	})

	t.Run("selection copies, edits never touch the template", func(t *testing.T) {
		nm := messaging.NewMessage{Audience: messaging.ExplicitAudience(stud.ID)}
		nm.ApplyTemplate(tpl)
		nm.Subject = "Exams ahead - updated"
		nm.Content += " Good luck!"

		_, err := env.svc.Send(ctx, admin, nm)
		require.NoError(t, err)

		got, err := env.svc.GetTemplate(ctx, tpl.ID)
		require.NoError(t, err)
		assert.Equal(t, tpl, got)

		msgs, err := env.svc.Query(ctx, stud, messaging.InboxFilter{Box: messaging.BoxReceived})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "Exams ahead - updated", msgs[0].Subject)
		assert.Equal(t, "Exams start next week. Good luck!", msgs[0].Content)
	})
}
