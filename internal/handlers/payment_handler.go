package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"clubsite/internal/services"
	"clubsite/internal/services/gateway"
	"clubsite/internal/services/gateway/mercadopago"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type PaymentHandler struct {
	reconciler    *services.Reconciler
	sandbox       *gateway.Sandbox
	webhookSecret string
}

// NewPaymentHandler wires the webhook. sandbox may be nil outside development.
func NewPaymentHandler(reconciler *services.Reconciler, sandbox *gateway.Sandbox, webhookSecret string) *PaymentHandler {
	return &PaymentHandler{
		reconciler:    reconciler,
		sandbox:       sandbox,
		webhookSecret: webhookSecret,
	}
}

// notificationID accepts both string and numeric ids.
type notificationID string

func (n *notificationID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*n = notificationID(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*n = notificationID(num.String())
	return nil
}

type WebhookReq struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  struct {
		ID notificationID `json:"id"`
	} `json:"data"`
}

// parseNotification reads the body first and falls back to the query string
// (?type=payment&data.id=.. or the legacy ?topic=payment&id=..).
func parseNotification(r *http.Request) (services.Notification, error) {
	var n services.Notification

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return n, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if len(bytes.TrimSpace(body)) > 0 {
		var req WebhookReq
		if err := json.Unmarshal(body, &req); err != nil {
			return n, err
		}
		n.Type = req.Type
		if n.Type == "" {
			n.Type = req.Topic
		}
		n.DataID = string(req.Data.ID)
	}

	q := r.URL.Query()
	if n.Type == "" {
		n.Type = q.Get("type")
	}
	if n.Type == "" {
		n.Type = q.Get("topic")
	}
	if n.DataID == "" {
		n.DataID = q.Get("data.id")
	}
	if n.DataID == "" {
		n.DataID = q.Get("id")
	}
	n.DataID = strings.TrimSpace(n.DataID)
	return n, nil
}

// Webhook - payment notifications from the gateway. Anything that is not a
// processing failure is acknowledged with 200 so the gateway stops retrying.
func (h *PaymentHandler) Webhook(e *core.RequestEvent) error {
	n, err := parseNotification(e.Request)
	if err != nil {
		slog.Warn("paymentHandler.Webhook() undecodable body", "error", err)
		return apis.NewBadRequestError("Invalid notification", nil)
	}

	if h.webhookSecret != "" {
		sig := e.Request.Header.Get("x-signature")
		reqID := e.Request.Header.Get("x-request-id")
		if !mercadopago.VerifySignature(h.webhookSecret, sig, reqID, n.DataID) {
			slog.Warn("paymentHandler.Webhook() bad signature", "data_id", n.DataID, "request_id", reqID)
			return apis.NewUnauthorizedError("Invalid signature", nil)
		}
	}

	out, err := h.reconciler.HandleNotification(e.Request.Context(), n)
	if err != nil {
		slog.Error("reconciler.HandleNotification()", "type", n.Type, "data_id", n.DataID, "error", err)
		return apis.NewInternalServerError("Notification not processed", nil)
	}
	return e.JSON(http.StatusOK, out)
}

type SimulatePaymentReq struct {
	PreferenceID string `json:"preference_id" validate:"required"`
	Status       string `json:"status" validate:"required,oneof=approved pending in_process rejected cancelled"`
}

// SimulatePayment - create a sandbox payment and reconcile it as if the
// gateway had notified us (development only)
func (h *PaymentHandler) SimulatePayment(e *core.RequestEvent) error {
	if h.sandbox == nil {
		return apis.NewNotFoundError("Sandbox gateway is not enabled", nil)
	}
	var req SimulatePaymentReq
	if err := bind(e, &req); err != nil {
		return err
	}

	ctx := e.Request.Context()
	paymentID, err := h.sandbox.SimulatePayment(ctx, req.PreferenceID, gateway.PaymentStatus(req.Status))
	if err != nil {
		return apiError("sandbox.SimulatePayment()", err)
	}

	out, err := h.reconciler.HandleNotification(ctx, services.Notification{Type: "payment", DataID: paymentID})
	if err != nil {
		return apiError("reconciler.HandleNotification()", err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"payment_id": paymentID,
		"kind":       out.Kind,
		"result":     out.Result,
	})
}
