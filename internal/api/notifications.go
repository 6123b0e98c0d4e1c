package api

import (
	"net/http"

	"procodus.dev/sewer-monitor/internal/gateway"
	"procodus.dev/sewer-monitor/internal/model"
)

type userRequest struct {
	Username              string     `json:"username"`
	PhoneNumber           string     `json:"phone_number"`
	Role                  model.Role `json:"role"`
	WhatsAppNotifications bool       `json:"whatsapp_notifications"`
}

func (a *API) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Username == "" {
		a.fail(w, r, badRequest("username is required"))
		return
	}
	if !req.Role.Valid() {
		a.fail(w, r, badRequest("invalid role %q", req.Role))
		return
	}

	user := &model.User{
		Username:              req.Username,
		PhoneNumber:           req.PhoneNumber,
		Role:                  req.Role,
		WhatsAppNotifications: req.WhatsAppNotifications,
	}
	if err := a.store.UpsertUser(r.Context(), user); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, user)
}

type phoneRequest struct {
	PhoneNumber string `json:"phone_number"`
}

func (a *API) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.PhoneNumber == "" {
		a.fail(w, r, badRequest("phone_number is required"))
		return
	}

	if err := a.sender.Send(r.Context(), req.PhoneNumber, gateway.TestMessage(a.clock.Now())); err != nil {
		a.logger.Warn("test notification failed", "phone_number", req.PhoneNumber, "error", err)
		a.writeJSON(w, http.StatusBadGateway, envelope{Error: "failed to send test message"})
		return
	}
	a.ok(w, http.StatusOK, map[string]string{"message": "test message sent"})
}

func (a *API) handleGatewayStatus(w http.ResponseWriter, _ *http.Request) {
	a.ok(w, http.StatusOK, a.gateway)
}

type webhookRequest struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
}

func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.PhoneNumber == "" || req.Message == "" {
		a.fail(w, r, badRequest("phone_number and message are required"))
		return
	}

	confirmed, err := a.replies.Handle(r.Context(), req.PhoneNumber, req.Message)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, map[string]bool{"confirmed": confirmed})
}
