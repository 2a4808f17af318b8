package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clubsite/internal/store"
	"clubsite/models"
	"clubsite/monitoring"

	"github.com/redis/go-redis/v9"
)

const reminderDedupeTTL = 72 * time.Hour

type ReminderReport struct {
	Events  int `json:"events"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type ReminderService struct {
	store  store.Tx
	mailer Mailer
	redis  redis.Cmdable
}

func NewReminderService(s store.Tx, m Mailer, rdb redis.Cmdable) *ReminderService {
	return &ReminderService{store: s, mailer: m, redis: rdb}
}

func reminderKey(eventID, email string) string {
	return fmt.Sprintf("reminder:%s:%s", eventID, email)
}

// SendReminders emails every holder of a valid ticket for events starting
// between 24 and 48 hours after now, once per event and address.
func (s *ReminderService) SendReminders(ctx context.Context, now time.Time) (*ReminderReport, error) {
	events, err := s.store.EventsStartingBetween(ctx, now.Add(24*time.Hour), now.Add(48*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("send reminders: %w", err)
	}

	report := &ReminderReport{}
	for _, ev := range events {
		if !ev.OnSale() {
			continue
		}
		report.Events++

		tickets, err := s.store.FindTickets(ctx, store.TicketFilter{EventID: ev.ID, Statuses: []models.TicketStatus{models.TicketValid}})
		if err != nil {
			return report, fmt.Errorf("send reminders: %w", err)
		}

		var order []string
		holders := map[string]*ReminderEmail{}
		for _, t := range tickets {
			email := strings.ToLower(strings.TrimSpace(t.Attendee.Email))
			if email == "" {
				continue
			}
			msg, ok := holders[email]
			if !ok {
				msg = &ReminderEmail{Name: t.Attendee.Name, Email: email, Event: ev}
				holders[email] = msg
				order = append(order, email)
			}
			msg.Tickets++
		}

		for _, email := range order {
			s.remind(ctx, holders[email], report)
		}
	}

	slog.Info("reminders processed", "events", report.Events, "sent", report.Sent, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

func (s *ReminderService) remind(ctx context.Context, msg *ReminderEmail, report *ReminderReport) {
	key := reminderKey(msg.Event.ID, msg.Email)
	fresh, err := s.redis.SetNX(ctx, key, 1, reminderDedupeTTL).Result()
	if err != nil {
		slog.Error("reminderService.remind() dedupe", "key", key, "error", err)
		report.Failed++
		return
	}
	if !fresh {
		report.Skipped++
		return
	}

	if err := s.mailer.SendReminder(ctx, *msg); err != nil {
		slog.Error("mailer.SendReminder()", "event_id", msg.Event.ID, "email", msg.Email, "error", err)
		monitoring.TrackEmailFailure("reminder")
		report.Failed++
		// let the next run retry this address
		if err := s.redis.Del(ctx, key).Err(); err != nil {
			slog.Warn("reminderService.remind() release dedupe", "key", key, "error", err)
		}
		return
	}
	report.Sent++
}
