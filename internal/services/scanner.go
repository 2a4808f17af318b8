package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clubsite/internal/status"
	"clubsite/internal/store"
	"clubsite/models"
	"clubsite/monitoring"
)

type ScanRequest struct {
	Code     string
	EventID  string
	Location string
}

type ScannedTicket struct {
	ID          string              `json:"id"`
	Nombre      string              `json:"nombre"`
	Documento   string              `json:"documento,omitempty"`
	TipoEntrada string              `json:"tipoEntrada,omitempty"`
	Estado      models.TicketStatus `json:"estado"`
	UsadaEn     *time.Time          `json:"usadaEn,omitempty"`
}

type ScanResult struct {
	Success bool               `json:"success"`
	Outcome models.ScanOutcome `json:"result"`
	Message string             `json:"message"`
	Ticket  *ScannedTicket     `json:"entrada,omitempty"`
}

var scanMessages = map[models.ScanOutcome]string{
	models.ScanValid:          "Entrada válida. Ingreso registrado.",
	models.ScanAlreadyUsed:    "La entrada ya fue utilizada.",
	models.ScanCancelled:      "La entrada está cancelada.",
	models.ScanTransferred:    "La entrada fue transferida.",
	models.ScanPendingPayment: "La entrada tiene el pago pendiente.",
	models.ScanNotFound:       "Entrada no encontrada.",
	models.ScanWrongEvent:     "La entrada corresponde a otro evento.",
}

type Scanner struct {
	store    store.Store
	notifier Notifier
	now      func() time.Time
}

func NewScanner(s store.Store, n Notifier) *Scanner {
	return &Scanner{store: s, notifier: n, now: time.Now}
}

// Validate checks a presented code at the door. A valid ticket is consumed
// exactly once; every authorized attempt leaves one audit row.
func (s *Scanner) Validate(ctx context.Context, req ScanRequest, actor *models.Actor) (*ScanResult, error) {
	if actor == nil {
		return nil, status.ErrUnauthorized
	}
	if !actor.CanScan() {
		return nil, status.ErrForbidden
	}
	if strings.TrimSpace(req.EventID) == "" {
		return nil, fmt.Errorf("%w: event is required", status.ErrInvalidRequest)
	}

	now := s.now()
	var result *ScanResult
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		t, outcome, err := s.decide(ctx, tx, req, now)
		if err != nil {
			return err
		}

		attempt := &models.ScanAttempt{
			EventID:   req.EventID,
			ActorID:   actor.ID,
			Outcome:   outcome,
			Location:  req.Location,
			ScannedAt: now,
		}
		if t != nil {
			attempt.TicketID = t.ID
		}
		if err := tx.InsertScan(ctx, attempt); err != nil {
			return err
		}

		result = &ScanResult{
			Success: outcome == models.ScanValid,
			Outcome: outcome,
			Message: scanMessages[outcome],
		}
		if t != nil && (outcome == models.ScanValid || outcome == models.ScanAlreadyUsed) {
			result.Ticket = s.describe(ctx, tx, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("validate ticket: %w", err)
	}

	monitoring.TrackScan(result.Outcome)
	publish(ctx, s.notifier, doorChannel(req.EventID), map[string]any{
		"type":     "scan",
		"result":   result.Outcome,
		"location": req.Location,
	})
	return result, nil
}

func (s *Scanner) decide(ctx context.Context, tx store.Tx, req ScanRequest, now time.Time) (*models.Ticket, models.ScanOutcome, error) {
	t, err := tx.TicketByCode(ctx, strings.TrimSpace(req.Code))
	if errors.Is(err, status.ErrNotFound) {
		return nil, models.ScanNotFound, nil
	}
	if err != nil {
		return nil, "", err
	}
	if t.EventID != req.EventID {
		return t, models.ScanWrongEvent, nil
	}

	switch t.Status {
	case models.TicketCancelled:
		return t, models.ScanCancelled, nil
	case models.TicketTransferred:
		return t, models.ScanTransferred, nil
	case models.TicketPending:
		return t, models.ScanPendingPayment, nil
	case models.TicketUsed:
		return t, models.ScanAlreadyUsed, nil
	}

	won, err := tx.TransitionTicket(ctx, store.TicketTransition{
		ID: t.ID, From: models.TicketValid, To: models.TicketUsed, At: now,
	})
	if err != nil {
		return nil, "", err
	}
	if !won {
		// lost the race: report the state the winner left behind
		current, err := tx.Ticket(ctx, t.ID)
		if err != nil {
			return nil, "", err
		}
		return current, models.ScanAlreadyUsed, nil
	}
	t.Status = models.TicketUsed
	t.UsedAt = &now
	return t, models.ScanValid, nil
}

func (s *Scanner) describe(ctx context.Context, tx store.Tx, t *models.Ticket) *ScannedTicket {
	out := &ScannedTicket{
		ID:        t.ID,
		Nombre:    t.Attendee.Name,
		Documento: t.Attendee.Document,
		Estado:    t.Status,
		UsadaEn:   t.UsedAt,
	}
	if tt, err := tx.TicketType(ctx, t.TicketTypeID); err == nil {
		out.TipoEntrada = tt.Name
	}
	return out
}
