package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/darasa/core/messaging"
	"github.com/trezcool/darasa/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateStudent(t *testing.T, repo user.Repository, name, uname, sector string) user.User {
	t.Helper()
	usr := CreateUser(t, repo, name, uname, uname+"@test.cd", "", user.StudentRoles, true)
	if sector != "" {
		var err error
		usr, err = repo.UpdateUser(context.Background(), user.User{ID: usr.ID}, nil, &sector)
		if err != nil {
			t.Fatalf("CreateStudent() failed: %v", err)
		}
	}
	return usr
}

func CreateMessage(
	t *testing.T,
	repo messaging.Repository,
	senderID, recipientID, subject, content string,
	createdAt ...time.Time,
) messaging.Message {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	msgs, err := repo.CreateMessages(context.Background(), []messaging.Message{{
		SenderID:    senderID,
		RecipientID: recipientID,
		Subject:     subject,
		Content:     content,
		Type:        messaging.TypeDirect,
		Priority:    messaging.PriorityNormal,
		CreatedAt:   tstamp,
	}})
	if err != nil {
		t.Fatalf("CreateMessage() failed: %v", err)
	}
	return msgs[0]
}

func CreateTemplate(t *testing.T, repo messaging.Repository, title, subject, content, tplType string) messaging.Template {
	t.Helper()

	tpl, err := repo.CreateTemplate(context.Background(), messaging.Template{
		Title:   title,
		Subject: subject,
		Content: content,
		Type:    tplType,
	})
	if err != nil {
		t.Fatalf("CreateTemplate() failed: %v", err)
	}
	return tpl
}
