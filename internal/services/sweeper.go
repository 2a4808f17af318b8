package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"clubsite/internal/store"
	"clubsite/models"
	"clubsite/monitoring"
)

// Sweeper releases the implicit hold of pending tickets whose payment
// window has lapsed.
type Sweeper struct {
	store store.Store
	ttl   time.Duration
}

func NewSweeper(s store.Store, ttl time.Duration) *Sweeper {
	return &Sweeper{store: s, ttl: ttl}
}

func (s *Sweeper) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.ttl)
	stale, err := s.store.FindTickets(ctx, store.TicketFilter{
		Statuses:        []models.TicketStatus{models.TicketPending},
		PurchasedBefore: cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("expire pending: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	expired := 0
	err = s.store.RunInTx(ctx, func(tx store.Tx) error {
		for _, t := range stale {
			won, err := tx.TransitionTicket(ctx, store.TicketTransition{
				ID: t.ID, From: models.TicketPending, To: models.TicketCancelled, At: now,
			})
			if err != nil {
				return err
			}
			if won {
				expired++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("expire pending: %w", err)
	}

	monitoring.TrackTicketsExpired(expired)
	slog.Info("pending tickets expired", "count", expired, "cutoff", cutoff)
	return expired, nil
}

// CountPending feeds the pending-tickets gauge.
func (s *Sweeper) CountPending(ctx context.Context) (int, error) {
	return s.store.CountTickets(ctx, store.TicketFilter{Statuses: []models.TicketStatus{models.TicketPending}})
}
