// Package app is the delivery worker core: it takes events off the
// notification stream and publishes them to the outbound exchange.
package app

import (
	"context"
	"log/slog"

	"casedesk/pkg/notify"
)

// Publisher is the outbound transport. The AMQP publisher in pkg/notify
// satisfies this.
type Publisher interface {
	Publish(ctx context.Context, ev notify.Event) error
}

// App forwards consumed events to the publisher.
type App struct {
	publisher Publisher
}

// New constructs the worker core.
func New(publisher Publisher) *App {
	return &App{publisher: publisher}
}

// Handle publishes one event. Returning an error makes the stream consumer
// retry until its attempt budget runs out.
func (a *App) Handle(ctx context.Context, ev notify.Event) error {
	if err := a.publisher.Publish(ctx, ev); err != nil {
		slog.Error("publish notification failed", "case_id", ev.CaseID, "kind", ev.Kind, "err", err)
		return err
	}
	slog.Debug("notification delivered", "case_id", ev.CaseID, "kind", ev.Kind, "recipient_role", ev.RecipientRole)
	return nil
}
