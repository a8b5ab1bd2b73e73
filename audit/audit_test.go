package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeAppender struct {
	entries []Entry
	err     error
}

func (f *fakeAppender) AppendAudit(_ context.Context, e Entry) (Entry, error) {
	if f.err != nil {
		return Entry{}, f.err
	}
	e.ID = uuid.New()
	f.entries = append(f.entries, e)
	return e, nil
}

func TestStoreRecorder(t *testing.T) {
	app := &fakeAppender{}
	rec := NewStoreRecorder(app, discardLogger)

	actor := uuid.New()
	rec.Record(context.Background(), &actor, ActionRideRequest, map[string]any{"rideId": "r1"})
	rec.Record(context.Background(), nil, ActionUserRegister, nil)

	if len(app.entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(app.entries))
	}
	if *app.entries[0].ActorID != actor {
		t.Errorf("expected actor %s, got %s", actor, *app.entries[0].ActorID)
	}
	if app.entries[1].ActorID != nil {
		t.Errorf("expected nil actor for system entry")
	}
	if app.entries[0].At.IsZero() {
		t.Errorf("expected timestamp to be set")
	}
}

func TestStoreRecorder_SwallowsErrors(t *testing.T) {
	rec := NewStoreRecorder(&fakeAppender{err: errors.New("disk full")}, discardLogger)
	// Must not panic or propagate.
	rec.Record(context.Background(), nil, ActionLogin, nil)
}

func TestMulti(t *testing.T) {
	a, b := &fakeAppender{}, &fakeAppender{}
	m := Multi{NewStoreRecorder(a, discardLogger), NewStoreRecorder(b, discardLogger), Discard{}}
	m.Record(context.Background(), nil, ActionFavoriteAdd, nil)

	if len(a.entries) != 1 || len(b.entries) != 1 {
		t.Errorf("expected one entry in each recorder, got %d and %d", len(a.entries), len(b.entries))
	}
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
	msgs []amqp.Publishing
	sent chan struct{}
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
	f.sent <- struct{}{}
	return nil
}

func TestAMQPRecorder_Publishes(t *testing.T) {
	pub := &fakePublisher{sent: make(chan struct{}, 1)}
	rec := NewAMQPRecorder(pub, "ridehail", 8, discardLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rec.Run(ctx)

	actor := uuid.New()
	rec.Record(ctx, &actor, ActionRideAccept, map[string]any{"rideId": "r1"})

	select {
	case <-pub.sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for publish")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.keys[0] != "audit.ride.accept" {
		t.Errorf("expected routing key audit.ride.accept, got %s", pub.keys[0])
	}
	var got Entry
	if err := json.Unmarshal(pub.msgs[0].Body, &got); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}
	if got.Action != ActionRideAccept || got.ActorID == nil || *got.ActorID != actor {
		t.Errorf("unexpected entry: %+v", got)
	}
	if pub.msgs[0].ContentType != "application/json" {
		t.Errorf("expected JSON content type, got %s", pub.msgs[0].ContentType)
	}
}

func TestAMQPRecorder_DropsWhenFull(t *testing.T) {
	rec := NewAMQPRecorder(&fakePublisher{sent: make(chan struct{}, 8)}, "ridehail", 1, discardLogger)

	// No worker running: the second entry has nowhere to go and must not block.
	done := make(chan struct{})
	go func() {
		rec.Record(context.Background(), nil, ActionLogin, nil)
		rec.Record(context.Background(), nil, ActionLogin, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Record blocked on a full queue")
	}
	if len(rec.queue) != 1 {
		t.Errorf("expected 1 queued entry, got %d", len(rec.queue))
	}
}
