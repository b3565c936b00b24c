// Package notify carries lifecycle events out of the case engine. Emission
// is decoupled from the mutating request: the engine hands events to an
// in-process Dispatcher, which forwards them to a queue for an external
// delivery worker. Failures are logged and never affect the mutation.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"casedesk/pkg/domain"
)

type EventKind string

const (
	EventCaseCreated     EventKind = "case.created"
	EventStatusChanged   EventKind = "case.status_changed"
	EventPriorityChanged EventKind = "case.priority_changed"
	EventNoteAdded       EventKind = "case.note_added"
	EventDocumentAdded   EventKind = "case.document_added"
	EventDocumentRemoved EventKind = "case.document_removed"
)

// Event describes one case lifecycle change and which side should hear
// about it.
type Event struct {
	CaseID        string      `json:"caseId"`
	Kind          EventKind   `json:"kind"`
	RecipientRole domain.Role `json:"recipientRole"`
	At            time.Time   `json:"at"`
}

// Notifier enqueues an event for delivery. At-least-once delivery attempt;
// the delivery channel itself is outside the core.
type Notifier interface {
	Emit(ctx context.Context, ev Event) error
}

// Dispatcher buffers events and emits them from a background worker so a
// slow or failed notifier never blocks a mutating request.
type Dispatcher struct {
	notifier    Notifier
	ch          chan Event
	emitTimeout time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewDispatcher wraps a notifier with an asynchronous buffer.
func NewDispatcher(n Notifier, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		notifier:    n,
		ch:          make(chan Event, buffer),
		emitTimeout: 5 * time.Second,
	}
}

// Start launches the delivery worker. The worker drains the buffer after
// ctx is canceled so accepted events still get their delivery attempt.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for ev := range d.ch {
			emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.emitTimeout)
			if err := d.notifier.Emit(emitCtx, ev); err != nil {
				slog.Error("notification emit failed", "case_id", ev.CaseID, "kind", ev.Kind, "err", err)
			}
			cancel()
		}
	}()
}

// Emit queues an event without blocking. A full buffer drops the event with
// a log line; notification is best-effort by contract.
func (d *Dispatcher) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case d.ch <- ev:
	default:
		slog.Warn("notification buffer full, dropping event", "case_id", ev.CaseID, "kind", ev.Kind)
	}
}

// Close stops accepting events and waits for the worker to drain.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.ch) })
	d.wg.Wait()
}
