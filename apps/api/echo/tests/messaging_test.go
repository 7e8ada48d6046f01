package tests

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/trezcool/darasa/core/messaging"
	"github.com/trezcool/darasa/core/user"
	testutil "github.com/trezcool/darasa/tests"
)

func Test_messagingApi_send(t *testing.T) {
	env := setup(t)

	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@test.cd", "", user.AdminRoles, true)
	eid := testutil.CreateStudent(t, env.usrRepo, "Eid", "eid", "Engineering")
	testutil.CreateStudent(t, env.usrRepo, "Ada", "ada", "Engineering")
	testutil.CreateStudent(t, env.usrRepo, "Zoe", "zoe", "Design")
	testutil.CreateUser(t, env.usrRepo, "Mentor", "mentor", "mentor@test.cd", "", user.MentorRoles, true)

	adminToken := getToken(t, admin)
	eidToken := getToken(t, eid)

	tests := []httpTest{
		{
			name: "Auth required", body: []byte(`{"content": "hi", "send_to_all": true}`),
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "broadcasts are admin-only", token: eidToken, body: []byte(`{"content": "hi", "send_to_all": true}`),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "audience required", token: adminToken, body: []byte(`{"content": "hi"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"recipient_ids": "an audience is required"}),
		},
		{
			name: "bad filter_by", token: adminToken, body: []byte(`{"content": "hi", "filter_by": "class:4B"}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"filter_by": "expected \"sector:<name>\" or \"role:<student|mentor|admin>\""}),
		},
		{
			name: "empty content", token: adminToken, body: []byte(`{"content": "   ", "send_to_all": true}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"content": "this field is required"}),
		},
		{
			name: "invalid priority", token: adminToken, body: []byte(`{"content": "hi", "priority": "asap", "send_to_all": true}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"priority": "invalid priority"}),
		},
		{
			name: "empty sector", token: adminToken, body: []byte(`{"content": "hi", "filter_by": "sector:Astrology"}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "no recipients could be resolved for this audience"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/messages", tt.token, tt.body)
			env.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	sendOK := func(t *testing.T, token string, body string) messaging.Receipt {
		t.Helper()
		req, rec := newAuthRequest(http.MethodPost, "/v1/messages", token, []byte(body))
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var receipt messaging.Receipt
		decodeBody(t, rec, &receipt)
		return receipt
	}

	t.Run("send to all", func(t *testing.T) {
		receipt := sendOK(t, adminToken, `{"subject": "Hi", "content": "School news", "send_to_all": true}`)
		if receipt.RecipientCount != 4 {
			t.Errorf("RecipientCount = %d; want 4", receipt.RecipientCount)
		}
		if receipt.BroadcastID == "" {
			t.Error("empty BroadcastID")
		}
	})

	t.Run("send to sector", func(t *testing.T) {
		receipt := sendOK(t, adminToken, `{"content": "Eng only", "filter_by": "sector:Engineering"}`)
		if receipt.RecipientCount != 2 {
			t.Errorf("RecipientCount = %d; want 2", receipt.RecipientCount)
		}
	})

	t.Run("send to role", func(t *testing.T) {
		receipt := sendOK(t, adminToken, `{"content": "Students only", "filter_by": "role:student"}`)
		if receipt.RecipientCount != 3 {
			t.Errorf("RecipientCount = %d; want 3", receipt.RecipientCount)
		}
	})

	t.Run("student may message explicit recipients", func(t *testing.T) {
		receipt := sendOK(t, eidToken, fmt.Sprintf(`{"content": "hey", "recipient_ids": ["%s"]}`, admin.ID))
		if receipt.RecipientCount != 1 {
			t.Errorf("RecipientCount = %d; want 1", receipt.RecipientCount)
		}
	})

	t.Run("filter narrows send-to-all", func(t *testing.T) {
		// "send to all students" reaches the 3 students, not the whole school
		receipt := sendOK(t, adminToken,
			`{"content": "Eid schedule", "message_type": "admin_broadcast", "priority": "urgent", "send_to_all": true, "filter_by": "students"}`)
		if receipt.RecipientCount != 3 {
			t.Errorf("RecipientCount = %d; want 3", receipt.RecipientCount)
		}
	})

	t.Run("bare mentors literal", func(t *testing.T) {
		receipt := sendOK(t, adminToken, `{"content": "Staff meeting", "filter_by": "mentors"}`)
		if receipt.RecipientCount != 1 {
			t.Errorf("RecipientCount = %d; want 1", receipt.RecipientCount)
		}
	})

	t.Run("delivery failure rolls the batch back", func(t *testing.T) {
		before, err := env.msgSvc.UnreadCount(context.Background(), eid)
		if err != nil {
			t.Fatalf("UnreadCount() failed, %v", err)
		}

		env.db.FailMessageCreateAfter(1)
		req, rec := newAuthRequest(http.MethodPost, "/v1/messages", adminToken, []byte(`{"content": "hi", "send_to_all": true}`))
		env.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadGateway,
			wantData: marchallObj(t, httpErr{Error: "message delivery failed, no messages were sent; it is safe to retry"}),
		}, rec)

		after, err := env.msgSvc.UnreadCount(context.Background(), eid)
		if err != nil {
			t.Fatalf("UnreadCount() failed, %v", err)
		}
		if after != before {
			t.Errorf("unread = %d; want %d (nothing may be delivered on failure)", after, before)
		}
	})
}

func Test_messagingApi_inbox(t *testing.T) {
	env := setup(t)

	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@test.cd", "", user.AdminRoles, true)
	eid := testutil.CreateStudent(t, env.usrRepo, "Eid", "eid", "Engineering")
	ada := testutil.CreateStudent(t, env.usrRepo, "Ada", "ada", "Engineering")

	adminToken := getToken(t, admin)
	eidToken := getToken(t, eid)
	adaToken := getToken(t, ada)

	// admin broadcast to students
	req, rec := newAuthRequest(http.MethodPost, "/v1/messages", adminToken,
		[]byte(`{"subject": "Eid Mubarak", "content": "School closed tomorrow", "priority": "high", "filter_by": "role:student"}`))
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("broadcast failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}

	type listItem struct {
		messaging.Message
		Icon  string `json:"icon"`
		Label string `json:"label"`
	}

	list := func(t *testing.T, token string, params url.Values) []listItem {
		t.Helper()
		req, rec := newAuthRequest(http.MethodGet, "/v1/messages?"+params.Encode(), token)
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("list failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var items []listItem
		decodeBody(t, rec, &items)
		return items
	}

	unreadCount := func(t *testing.T, token string) int {
		t.Helper()
		req, rec := newAuthRequest(http.MethodGet, "/v1/messages/unread-count", token)
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("unread-count failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			UnreadCount int `json:"unread_count"`
		}
		decodeBody(t, rec, &resp)
		return resp.UnreadCount
	}

	t.Run("each student got their own copy", func(t *testing.T) {
		for _, token := range []string{eidToken, adaToken} {
			items := list(t, token, url.Values{"box": {"received"}})
			if len(items) != 1 {
				t.Fatalf("len(items) = %d; want 1", len(items))
			}
			if items[0].IsRead {
				t.Error("message already read")
			}
			if items[0].Icon != "campaign" || items[0].Label != "Announcement" {
				t.Errorf("classification = %s/%s; want campaign/Announcement", items[0].Icon, items[0].Label)
			}
		}
	})

	t.Run("sender sees it in the sent box", func(t *testing.T) {
		items := list(t, adminToken, url.Values{"box": {"sent"}})
		if len(items) != 2 {
			t.Errorf("len(items) = %d; want 2", len(items))
		}
	})

	t.Run("invalid box", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/messages?box=lol", eidToken)
		env.app.ServeHTTP(rec, req)
		tt := httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"box": "invalid box; must be one of: all, sent, received, unread"}),
		}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("mark read is per recipient", func(t *testing.T) {
		items := list(t, eidToken, url.Values{"box": {"received"}})
		msgID := items[0].ID

		req, rec := newAuthRequest(http.MethodPut, "/v1/messages/"+msgID+"/read", eidToken)
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("markRead failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var msg messaging.Message
		decodeBody(t, rec, &msg)
		if !msg.IsRead {
			t.Error("message not marked read")
		}

		if cnt := unreadCount(t, eidToken); cnt != 0 {
			t.Errorf("eid unread = %d; want 0", cnt)
		}
		if cnt := unreadCount(t, adaToken); cnt != 1 {
			t.Errorf("ada unread = %d; want 1", cnt)
		}

		// idempotent
		req, rec = newAuthRequest(http.MethodPut, "/v1/messages/"+msgID+"/read", eidToken)
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("markRead retry failed! code = %v", rec.Code)
		}

		// only the recipient may mark their copy read
		req, rec = newAuthRequest(http.MethodPut, "/v1/messages/"+msgID+"/read", adaToken)
		env.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "only the recipient of a message may mark it read"}),
		}, rec)
	})

	t.Run("unknown message", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/messages/b5bd4c66-071b-4df8-8358-36c58e04baa1/read", eidToken)
		env.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "message not found"}),
		}, rec)
	})

	t.Run("search", func(t *testing.T) {
		items := list(t, eidToken, url.Values{"search": {"mubarak"}})
		if len(items) != 1 {
			t.Errorf("len(items) = %d; want 1", len(items))
		}
		items = list(t, eidToken, url.Values{"search": {"nothing"}})
		if len(items) != 0 {
			t.Errorf("len(items) = %d; want 0", len(items))
		}
	})
}

func Test_messagingApi_templates(t *testing.T) {
	env := setup(t)

	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@test.cd", "", user.AdminRoles, true)
	eid := testutil.CreateStudent(t, env.usrRepo, "Eid", "eid", "")

	tpl := testutil.CreateTemplate(t, env.msgRepo, "Exam Reminder", "Exams ahead", "Exams start next week.", messaging.TemplateReminder)

	adminToken := getToken(t, admin)

	tests := []httpTest{
		{
			name: "Auth required", method: http.MethodGet, path: "/v1/message-templates",
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "Admin required", method: http.MethodGet, path: "/v1/message-templates", token: getToken(t, eid),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "List", method: http.MethodGet, path: "/v1/message-templates", token: adminToken,
			wantCode: http.StatusOK, wantData: marchallList(t, tpl),
		},
		{
			name: "Get", method: http.MethodGet, path: "/v1/message-templates/" + tpl.ID, token: adminToken,
			wantCode: http.StatusOK, wantData: marchallObj(t, tpl),
		},
		{
			name: "Get unknown", method: http.MethodGet, path: "/v1/message-templates/b5bd4c66-071b-4df8-8358-36c58e04baa1",
			token: adminToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "template not found"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token)
			env.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("send pre-filled from a template", func(t *testing.T) {
		body := fmt.Sprintf(`{"template_id": "%s", "recipient_ids": ["%s"]}`, tpl.ID, eid.ID)
		req, rec := newAuthRequest(http.MethodPost, "/v1/messages", adminToken, []byte(body))
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("send failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}

		req, rec = newAuthRequest(http.MethodGet, "/v1/messages?box=received", getToken(t, eid))
		env.app.ServeHTTP(rec, req)
		var items []messaging.Message
		decodeBody(t, rec, &items)
		if len(items) != 1 {
			t.Fatalf("len(items) = %d; want 1", len(items))
		}
		if items[0].Subject != tpl.Subject || items[0].Content != tpl.Content {
			t.Errorf("message not pre-filled from template: %+v", items[0])
		}
	})
}
