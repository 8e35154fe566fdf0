// Package dispatch decides what happens to every message and relationship
// change and fans the result out to live sessions and push notifications.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/repositories"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotAdmin   = errors.New("only the group admin can do this")
	ErrForbidden  = errors.New("not allowed")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Broadcaster delivers events to live sessions.
type Broadcaster interface {
	// Publish sends event to every session subscribed to room except the
	// session with id exceptSessionID.
	Publish(room string, event models.Event, exceptSessionID string)
	// NotifyUser sends event to every session of username.
	NotifyUser(username string, event models.Event)
	// EvictUser unsubscribes all sessions of username from room.
	EvictUser(room, username string)
	// CloseRoom unsubscribes every session from room.
	CloseRoom(room string)
}

// Notifier hands notifications to the push transport.
type Notifier interface {
	Notify(ctx context.Context, n models.PushNotification) error
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	users       repositories.UserRepository
	friends     repositories.FriendRepository
	messages    repositories.MessageRepository
	groups      repositories.GroupRepository
	broadcaster Broadcaster
	notifier    Notifier

	locks       *keyedMutex
	pushTimeout time.Duration
	newID       func() string
	tracer      trace.Tracer
	pushes      sync.WaitGroup
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithPushTimeout bounds each push attempt.
func WithPushTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.pushTimeout = d }
}

// WithIDGenerator replaces the group id source.
func WithIDGenerator(gen func() string) Option {
	return func(disp *Dispatcher) { disp.newID = gen }
}

// New builds a Dispatcher. notifier may be nil.
func New(store repositories.Store, broadcaster Broadcaster, notifier Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		users:       store.Users,
		friends:     store.Friends,
		messages:    store.Messages,
		groups:      store.Groups,
		broadcaster: broadcaster,
		notifier:    notifier,
		locks:       newKeyedMutex(),
		pushTimeout: 10 * time.Second,
		newID:       uuid.NewString,
		tracer:      otel.Tracer("messenger-service/dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Wait blocks until in-flight push notifications finish.
func (d *Dispatcher) Wait() {
	d.pushes.Wait()
}

func (d *Dispatcher) lockRoom(room string) func() {
	return d.locks.Lock("room:" + room)
}

func (d *Dispatcher) lockPair(a, b string) func() {
	return d.locks.Lock("pair:" + repositories.PairKey(a, b))
}

func (d *Dispatcher) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, "dispatch."+op)
}

// finish records the outcome of op on its span and in metrics.
func finish(span trace.Span, op string, outcome string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome = "error"
	}
	observability.IncDispatch(op, outcome)
	span.End()
}

// push runs detached from the caller. Failures are logged and counted only.
func (d *Dispatcher) push(username, title string, msg models.Message) {
	if d.notifier == nil {
		return
	}
	d.pushes.Add(1)
	go func() {
		defer d.pushes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.pushTimeout)
		defer cancel()

		user, err := d.users.GetUserByUsername(ctx, username)
		if err != nil {
			log.Warn().Err(err).Str("username", username).Msg("push recipient lookup failed")
			observability.IncPushFailure("lookup")
			return
		}
		if user.PushToken == "" {
			return
		}
		err = d.notifier.Notify(ctx, models.PushNotification{
			To:        user.Username,
			Token:     user.PushToken,
			Title:     title,
			Body:      preview(msg),
			Room:      msg.Room,
			MessageID: msg.ID,
		})
		if err != nil {
			log.Warn().Err(err).Str("username", username).Str("room", msg.Room).Msg("push notification failed")
			observability.IncPushFailure("notify")
		}
	}()
}

const previewLimit = 120

func preview(msg models.Message) string {
	switch msg.Kind {
	case models.KindAudio:
		return "Voice message"
	case models.KindSystem:
		return msg.Body
	}
	body := []rune(msg.Body)
	if len(body) > previewLimit {
		return string(body[:previewLimit]) + "…"
	}
	return msg.Body
}
