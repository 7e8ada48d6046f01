package echoapi

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/messaging"
	"github.com/trezcool/darasa/core/user"
)

type messagingApi struct {
	svc      messaging.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerMessagingAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := messagingApi{
		svc:      deps.MessagingSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}

	mg := g.Group("/messages", jwt)
	mg.POST("", api.send)
	mg.GET("", api.list)
	mg.GET("/unread-count", api.unreadCount)
	mg.PUT("/:id/read", api.markRead)

	tg := g.Group("/message-templates", jwt, adminMiddleware())
	tg.GET("", api.queryTemplates)
	tg.GET("/:id", api.getTemplate)
}

// Handlers

func (api *messagingApi) send(ctx echo.Context) error {
	var data SendMessageRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SendMessageRequest")
	}

	aud, err := data.audience()
	if err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	// broadcast audiences are reserved for admins; anyone may address
	// explicitly named recipients
	if aud.Kind != messaging.AudienceExplicit && !ctxUsr.IsAdmin() {
		return errHttpForbidden
	}

	nm := messaging.NewMessage{
		Subject:  data.Subject,
		Content:  data.Content,
		Type:     data.Type,
		Priority: data.Priority,
		Audience: aud,
	}
	if data.TemplateID != "" {
		// pre-fill from a copy of the template; explicit values win
		tpl, err := api.svc.GetTemplate(ctx.Request().Context(), data.TemplateID)
		if err != nil {
			return errors.Wrap(err, "getting template")
		}
		if nm.Subject == "" {
			nm.Subject = tpl.Subject
		}
		if strings.TrimSpace(nm.Content) == "" {
			nm.Content = tpl.Content
		}
	}
	if nm.Type == "" && aud.Kind != messaging.AudienceExplicit {
		nm.Type = messaging.TypeAdminBroadcast
	}
	if err := nm.Validate(api.validate); err != nil {
		return err
	}

	receipt, err := api.svc.Send(ctx.Request().Context(), ctxUsr, nm)
	if err != nil {
		return errors.Wrap(err, "sending message")
	}
	return ctx.JSON(http.StatusCreated, receipt)
}

func (api *messagingApi) list(ctx echo.Context) error {
	filter := new(messaging.InboxFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []MessageResponse{})
	}
	if err := filter.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	msgs, err := api.svc.Query(ctx.Request().Context(), ctxUsr, *filter)
	if err != nil {
		return errors.Wrap(err, "querying messages")
	}

	resp := make([]MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		resp = append(resp, MessageResponse{Message: msg, Classification: messaging.Classify(msg.Type)})
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *messagingApi) markRead(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	msg, err := api.svc.MarkRead(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "marking message read")
	}
	return ctx.JSON(http.StatusOK, msg)
}

func (api *messagingApi) unreadCount(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	cnt, err := api.svc.UnreadCount(ctx.Request().Context(), ctxUsr)
	if err != nil {
		return errors.Wrap(err, "counting unread messages")
	}
	return ctx.JSON(http.StatusOK, UnreadCountResponse{UnreadCount: cnt})
}

func (api *messagingApi) queryTemplates(ctx echo.Context) error {
	tpls, err := api.svc.QueryTemplates(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying templates")
	}
	if tpls == nil {
		tpls = []messaging.Template{}
	}
	return ctx.JSON(http.StatusOK, tpls)
}

func (api *messagingApi) getTemplate(ctx echo.Context) error {
	tpl, err := api.svc.GetTemplate(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting template")
	}
	return ctx.JSON(http.StatusOK, tpl)
}

type (
	// SendMessageRequest is a compose draft plus its audience descriptor.
	// A filter_by always narrows the audience, even when send_to_all is set;
	// recipient_ids only apply when neither broadcast field is present.
	SendMessageRequest struct {
		Subject      string   `json:"subject"`
		Content      string   `json:"content"`
		Type         string   `json:"message_type"`
		Priority     string   `json:"priority"`
		TemplateID   string   `json:"template_id"`
		SendToAll    bool     `json:"send_to_all"`
		FilterBy     string   `json:"filter_by"` // "sector:<name>" or "role:<student|mentor|admin>"
		RecipientIDs []string `json:"recipient_ids"`
	}

	MessageResponse struct {
		messaging.Message
		messaging.Classification
	}

	UnreadCountResponse struct {
		UnreadCount int `json:"unread_count"`
	}
)

var filterRoles = map[string]string{
	"student":  user.RoleStudent,
	"students": user.RoleStudent,
	"mentor":   user.RoleMentor,
	"mentors":  user.RoleMentor,
	"admin":    user.RoleAdmin,
	"admins":   user.RoleAdmin,
}

func (r SendMessageRequest) audience() (messaging.Audience, error) {
	switch {
	case r.FilterBy != "":
		// the filter wins over send_to_all: "send to all students" is a
		// role broadcast, not a broadcast to everyone
		filterBy := strings.TrimSpace(r.FilterBy)
		if role, ok := filterRoles[strings.ToLower(filterBy)]; ok {
			return messaging.RoleAudience(role), nil
		}
		parts := strings.SplitN(filterBy, ":", 2)
		if len(parts) == 2 {
			key, val := strings.ToLower(strings.TrimSpace(parts[0])), strings.TrimSpace(parts[1])
			switch key {
			case "sector":
				return messaging.SectorAudience(val), nil
			case "role":
				if role, ok := filterRoles[strings.ToLower(val)]; ok {
					return messaging.RoleAudience(role), nil
				}
			}
		}
		return messaging.Audience{}, core.NewValidationError(
			nil, core.FieldError{Field: "filter_by", Error: "expected \"sector:<name>\" or \"role:<student|mentor|admin>\""},
		)

	case r.SendToAll:
		return messaging.AllAudience(), nil

	case len(r.RecipientIDs) > 0:
		return messaging.ExplicitAudience(r.RecipientIDs...), nil
	}

	return messaging.Audience{}, core.NewValidationError(
		nil, core.FieldError{Field: "recipient_ids", Error: "an audience is required"},
	)
}
