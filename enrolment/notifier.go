package enrolment

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/logger"
	"github.com/teranos/enrolpulse/sym"
)

// Change describes one status transition.
type Change struct {
	UserID      int64     `json:"user_id"`
	CourseID    int64     `json:"course_id"`
	Previous    Status    `json:"previous,omitempty"`
	Current     Status    `json:"current"`
	HadPrevious bool      `json:"had_previous"`
	JobName     string    `json:"job_name,omitempty"`
	At          time.Time `json:"at"`
}

// Sink receives status changes. Delivery is best effort: a change may be
// announced twice when a run is interrupted right after announcing it.
type Sink interface {
	Notify(ctx context.Context, change Change)
}

// Listener is one subscriber of a Notifier.
type Listener interface {
	Name() string
	OnStatusChange(ctx context.Context, change Change) error
}

// Notifier calls its listeners synchronously, in registration order. A failing
// listener is logged and does not stop the others.
type Notifier struct {
	mu        sync.RWMutex
	listeners []Listener
	logger    *zap.SugaredLogger
}

// NewNotifier creates a notifier with the given listeners.
func NewNotifier(log *zap.SugaredLogger, listeners ...Listener) *Notifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Notifier{logger: log, listeners: listeners}
}

// AddListener appends a listener.
func (n *Notifier) AddListener(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, l)
}

// Listeners returns the listener names in call order.
func (n *Notifier) Listeners() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	names := make([]string, len(n.listeners))
	for i, l := range n.listeners {
		names[i] = l.Name()
	}
	return names
}

func (n *Notifier) Notify(ctx context.Context, change Change) {
	n.mu.RLock()
	listeners := make([]Listener, len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.RUnlock()

	for _, l := range listeners {
		if err := l.OnStatusChange(ctx, change); err != nil {
			n.logger.Warnw("Status change listener failed",
				logger.FieldListener, l.Name(),
				logger.FieldUserID, change.UserID,
				logger.FieldCourseID, change.CourseID,
				logger.FieldError, err,
			)
		}
	}
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc struct {
	ListenerName string
	Fn           func(ctx context.Context, change Change) error
}

func (f ListenerFunc) Name() string { return f.ListenerName }

func (f ListenerFunc) OnStatusChange(ctx context.Context, change Change) error {
	return f.Fn(ctx, change)
}

// LogListener writes every change to a logger.
type LogListener struct {
	logger *zap.SugaredLogger
}

// NewLogListener creates a listener logging at info level.
func NewLogListener(log *zap.SugaredLogger) *LogListener {
	return &LogListener{logger: log}
}

func (l *LogListener) Name() string { return "log" }

func (l *LogListener) OnStatusChange(_ context.Context, change Change) error {
	l.logger.Infow("Enrolment status changed", logger.SymbolFields(sym.Enrol,
		logger.FieldUserID, change.UserID,
		logger.FieldCourseID, change.CourseID,
		logger.FieldPreviousStatus, change.Previous,
		logger.FieldStatus, change.Current,
	)...)
	return nil
}

// OutboxListener appends changes to enrolment_status_events for downstream
// consumers (emails, analytics) to read at their own pace.
type OutboxListener struct {
	db *sql.DB
}

// NewOutboxListener creates an outbox listener.
func NewOutboxListener(db *sql.DB) *OutboxListener {
	return &OutboxListener{db: db}
}

func (o *OutboxListener) Name() string { return "outbox" }

func (o *OutboxListener) OnStatusChange(ctx context.Context, change Change) error {
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO enrolment_status_events (user_id, course_id, previous_status, new_status, job_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		change.UserID,
		change.CourseID,
		sql.NullString{String: string(change.Previous), Valid: change.HadPrevious},
		string(change.Current),
		change.JobName,
		change.At,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record status change of user %d", change.UserID)
	}
	return nil
}

// Events reads outbox rows after afterID, oldest first.
func (o *OutboxListener) Events(ctx context.Context, courseID, afterID int64, limit int) ([]OutboxEvent, error) {
	rows, err := o.db.QueryContext(ctx, `
		SELECT id, user_id, course_id, previous_status, new_status, job_name, created_at
		FROM enrolment_status_events
		WHERE course_id = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?`, courseID, afterID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read status events")
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		var previous sql.NullString
		var current string
		if err := rows.Scan(&e.ID, &e.UserID, &e.CourseID, &previous, &current, &e.JobName, &e.At); err != nil {
			return nil, errors.Wrap(err, "failed to scan status event")
		}
		e.Current = Status(current)
		if previous.Valid {
			e.Previous = Status(previous.String)
			e.HadPrevious = true
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// OutboxEvent is a stored Change.
type OutboxEvent struct {
	ID int64 `json:"id"`
	Change
}

// SubscriberChannelBufferSize is the buffer size for subscriber channels
const SubscriberChannelBufferSize = 100

// ChannelListener fans changes out to in-process subscribers. A subscriber
// whose buffer is full misses the change rather than blocking the job.
type ChannelListener struct {
	mu          sync.RWMutex
	subscribers []chan Change
}

// NewChannelListener creates a listener with no subscribers.
func NewChannelListener() *ChannelListener {
	return &ChannelListener{}
}

func (c *ChannelListener) Name() string { return "channel" }

// Subscribe returns a channel of changes and a function that closes it.
func (c *ChannelListener) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, SubscriberChannelBufferSize)

	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, sub := range c.subscribers {
				if sub == ch {
					c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
}

func (c *ChannelListener) OnStatusChange(_ context.Context, change Change) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dropped := 0
	for _, ch := range c.subscribers {
		select {
		case ch <- change:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return errors.Newf("%d subscriber(s) full, change of user %d dropped", dropped, change.UserID)
	}
	return nil
}
