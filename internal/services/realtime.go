package services

import (
	"context"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go/v7"
)

// Notifier publishes realtime updates to subscribed clients.
type Notifier interface {
	Publish(ctx context.Context, channel string, message any) error
}

type PubNubNotifier struct {
	pn *pubnub.PubNub
}

func NewPubNubNotifier(pn *pubnub.PubNub) *PubNubNotifier {
	return &PubNubNotifier{pn: pn}
}

func (n *PubNubNotifier) Publish(ctx context.Context, channel string, message any) error {
	_, st, err := n.pn.Publish().
		Channel(channel).
		Message(message).
		Execute()
	if err != nil {
		return fmt.Errorf("pubnub publish %s: %w", channel, err)
	}
	if st.StatusCode >= 400 {
		return fmt.Errorf("pubnub publish %s: status %d", channel, st.StatusCode)
	}
	return nil
}

func userChannel(userID string) string  { return "user-" + userID }
func eventChannel(eventID string) string { return "event-" + eventID }
func doorChannel(eventID string) string  { return "door-" + eventID }

// publish is fire-and-forget: a realtime failure never affects the workflow.
func publish(ctx context.Context, n Notifier, channel string, message any) {
	if n == nil {
		return
	}
	if err := n.Publish(ctx, channel, message); err != nil {
		slog.Warn("notifier.Publish()", "channel", channel, "error", err)
	}
}
