// Package msgbox is the threaded message-box engine: creation with
// collision-free ordering timestamps, body sanitization, paged retrieval
// in thread-key order, and the hard/soft/leaf deletion policy.
package msgbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"threadbox/pkg/events"
	"threadbox/pkg/inflight"
	"threadbox/pkg/logger"
	"threadbox/pkg/models"
	"threadbox/pkg/sanitize"
	"threadbox/pkg/store"
	"threadbox/pkg/threadkey"
	"threadbox/pkg/tslock"
)

// DefaultPageSize is the page size of GetMessagesFromMessageBox when the
// caller passes no limit.
const DefaultPageSize = 10

// RowStore is the slice of the row-store contract the engine consumes.
// *store.Pebble satisfies it.
type RowStore interface {
	Set(key string, value []byte) error
	Get(key string) ([]byte, error)
	BatchGet(keys []string) ([][]byte, error)
	Delete(key string) error
	Scan(prefix, startExclusive string, limit int, descending bool) ([]store.Entry, string, error)
	SetWithTTL(key string, value []byte, expiresAt time.Time) error
}

// Store orchestrates all message-box operations. It is stateless and
// reentrant; any number of goroutines may share one Store.
type Store struct {
	rows     RowStore
	reserver *tslock.Reserver
	san      *sanitize.Sanitizer
	emitter  events.Emitter
	tracker  *inflight.Tracker
	metrics  *boxMetrics
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithEmitter wires a lifecycle event consumer.
func WithEmitter(e events.Emitter) Option {
	return func(s *Store) {
		if e != nil {
			s.emitter = e
		}
	}
}

// WithTracker wires the in-flight tracker used for async side writes.
func WithTracker(t *inflight.Tracker) Option {
	return func(s *Store) {
		if t != nil {
			s.tracker = t
		}
	}
}

// WithClock overrides the time source; tests use it to pin timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a Store over the given row store, timestamp reserver and
// body sanitizer.
func New(rows RowStore, reserver *tslock.Reserver, san *sanitize.Sanitizer, opts ...Option) *Store {
	s := &Store{
		rows:     rows,
		reserver: reserver,
		san:      san,
		emitter:  events.LogEmitter{},
		tracker:  inflight.New(),
		metrics:  newBoxMetrics(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Tracker exposes the in-flight tracker so a shutting-down process can
// AwaitIdle on pending side writes.
func (s *Store) Tracker() *inflight.Tracker { return s.tracker }

// Row key layout. The message row is keyed by the message id; the box
// index is keyed by thread key so a prefix scan walks display order.
func msgRowKey(messageBoxID string, created int64) string {
	return "msg:" + models.MessageID(messageBoxID, created)
}

func idxPrefix(messageBoxID string) string {
	return "box:" + messageBoxID + ":k:"
}

func idxRowKey(messageBoxID, key string) string {
	return idxPrefix(messageBoxID) + key
}

func tombRowKey(messageBoxID string, created int64) string {
	return fmt.Sprintf("tomb:%s:%013d", messageBoxID, created)
}

// indexEntry is the value of a box index row.
type indexEntry struct {
	ID string `json:"id"`
}

// CreateOptions carries the optional arguments of CreateMessage.
type CreateOptions struct {
	// ReplyTo is the Created of the parent message; nil creates a
	// top-level message.
	ReplyTo *int64
}

// CreateMessage validates, reserves an ordering timestamp, sanitizes the
// body and writes the message. The message row is durable before the box
// index entry; an index write failure leaves the message stored but
// invisible to listings, never the other way around.
func (s *Store) CreateMessage(ctx context.Context, messageBoxID, createdBy, body string, opts CreateOptions) (models.Message, error) {
	var zero models.Message
	if messageBoxID == "" {
		return zero, invalid("messageBoxId", "must not be empty")
	}
	if body == "" {
		return zero, invalid("body", "must not be empty")
	}
	if createdBy == "" {
		return zero, invalid("createdBy", "must not be empty")
	}
	if kind := models.PrincipalKind(createdBy); kind != "user" {
		return zero, invalid("createdBy", fmt.Sprintf("principal kind %q cannot author messages", kind))
	}
	now := s.now().UnixMilli()
	if opts.ReplyTo != nil && (*opts.ReplyTo <= 0 || *opts.ReplyTo > now) {
		return zero, invalid("replyTo", "must be a past timestamp")
	}

	// resolve the parent before any lock or write
	parentKey := ""
	scope := messageBoxID
	if opts.ReplyTo != nil {
		parent, err := s.readMessage(messageBoxID, *opts.ReplyTo)
		if err != nil {
			if store.IsNotFound(err) {
				return zero, fmt.Errorf("%w: %s#%d", ErrReplyTargetNotFound, messageBoxID, *opts.ReplyTo)
			}
			return zero, err
		}
		parentKey = parent.ThreadKey
		scope = parentKey
	}

	created, release := s.reserver.Reserve(ctx, scope, now)

	var key string
	var err error
	if parentKey == "" {
		key = threadkey.Root(created)
	} else {
		key, err = threadkey.Append(parentKey, created)
		if err != nil {
			release()
			return zero, err
		}
	}

	level, err := threadkey.Level(key)
	if err != nil {
		release()
		return zero, err
	}
	msg := models.Message{
		ID:           models.MessageID(messageBoxID, created),
		MessageBoxID: messageBoxID,
		ThreadKey:    key,
		Body:         s.san.Sanitize(body),
		CreatedBy:    createdBy,
		Created:      created,
		Level:        level,
		ReplyTo:      opts.ReplyTo,
	}

	if err := s.writeMessage(msg); err != nil {
		release()
		return zero, err
	}
	// timestamp is durable; the slot lock can go
	s.tracker.Go(release)

	idxVal, err := json.Marshal(indexEntry{ID: msg.ID})
	if err != nil {
		return zero, fmt.Errorf("marshal index entry: %w", err)
	}
	if err := s.rows.Set(idxRowKey(messageBoxID, key), idxVal); err != nil {
		// the message row is durable; report it created even though it is
		// invisible to listings until the index is repaired
		logger.Error("index_write_failed", "id", msg.ID, "thread_key", key, "error", err)
	}

	s.tracker.Go(func() { s.recordContribution(messageBoxID, createdBy, created) })

	kind := "top_level"
	if msg.ReplyTo != nil {
		kind = "reply"
	}
	s.metrics.created.WithLabelValues(kind).Inc()
	s.emitter.CreatedMessage(msg)
	return msg, nil
}

// UpdateMessageBody re-sanitizes and overwrites the body of a live
// message. ThreadKey, Level and Deleted are never touched.
func (s *Store) UpdateMessageBody(ctx context.Context, messageBoxID string, created int64, newBody string) error {
	if messageBoxID == "" {
		return invalid("messageBoxId", "must not be empty")
	}
	if newBody == "" {
		return invalid("body", "must not be empty")
	}
	if created <= 0 || created > s.now().UnixMilli() {
		return invalid("created", "must be a past timestamp")
	}

	msg, err := s.readMessage(messageBoxID, created)
	if err != nil {
		if store.IsNotFound(err) {
			return fmt.Errorf("%w: %s#%d", ErrNotFound, messageBoxID, created)
		}
		return err
	}
	if msg.Deleted != nil {
		return fmt.Errorf("%w: %s is deleted", ErrNotFound, msg.ID)
	}

	msg.Body = s.san.Sanitize(newBody)
	if err := s.writeMessage(msg); err != nil {
		return err
	}
	s.metrics.updated.Inc()
	s.emitter.UpdatedMessage(msg.ID, msg.Body)
	return nil
}

// ReadOptions controls scrubbing of soft-deleted messages on reads.
type ReadOptions struct {
	// Unscrubbed returns soft-deleted messages with Body and CreatedBy
	// intact. The zero value scrubs, which is the default everywhere.
	Unscrubbed bool
}

// Page is one page of a box listing.
type Page struct {
	Messages []models.Message
	// Next is the thread key to pass as start for the following page;
	// empty when the listing is exhausted.
	Next string
}

// GetMessagesFromMessageBox range-scans the box index in descending thread
// -key order. start, when non-empty, is the thread key the page resumes
// strictly after; the default starts at the most recent entry.
func (s *Store) GetMessagesFromMessageBox(ctx context.Context, messageBoxID, start string, limit int, opts ReadOptions) (Page, error) {
	if messageBoxID == "" {
		return Page{}, invalid("messageBoxId", "must not be empty")
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	startKey := ""
	if start != "" {
		startKey = idxRowKey(messageBoxID, start)
	}
	entries, token, err := s.rows.Scan(idxPrefix(messageBoxID), startKey, limit, true)
	if err != nil {
		return Page{}, fmt.Errorf("scan box %s: %w", messageBoxID, err)
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		var ie indexEntry
		if err := json.Unmarshal(e.Value, &ie); err != nil {
			return Page{}, fmt.Errorf("corrupt index row %s: %w", e.Key, err)
		}
		ids[i] = ie.ID
	}
	msgs, err := s.GetMessagesByID(ctx, ids, opts)
	if err != nil {
		return Page{}, err
	}

	page := Page{}
	for _, m := range msgs {
		if m == nil {
			// index entry without a row; skip rather than fail the page
			continue
		}
		page.Messages = append(page.Messages, *m)
	}
	if token != "" {
		page.Next = token[len(idxPrefix(messageBoxID)):]
	}
	return page, nil
}

// GetMessages batch-fetches messages of one box by their creation
// timestamps, preserving input order.
func (s *Store) GetMessages(ctx context.Context, messageBoxID string, createdTimestamps []int64, opts ReadOptions) ([]*models.Message, error) {
	if messageBoxID == "" {
		return nil, invalid("messageBoxId", "must not be empty")
	}
	ids := make([]string, len(createdTimestamps))
	for i, ts := range createdTimestamps {
		ids[i] = models.MessageID(messageBoxID, ts)
	}
	return s.GetMessagesByID(ctx, ids, opts)
}

// GetMessagesByID batch point-reads messages by id. A missing id leaves a
// nil slot at its input position. Soft-deleted messages are scrubbed
// unless opts.Unscrubbed is set.
func (s *Store) GetMessagesByID(ctx context.Context, messageIDs []string, opts ReadOptions) ([]*models.Message, error) {
	keys := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		keys[i] = "msg:" + id
	}
	rows, err := s.rows.BatchGet(keys)
	if err != nil {
		return nil, fmt.Errorf("batch get: %w", err)
	}
	out := make([]*models.Message, len(messageIDs))
	for i, data := range rows {
		if data == nil {
			continue
		}
		var m models.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("corrupt message row %s: %w", keys[i], err)
		}
		if m.Deleted != nil && !opts.Unscrubbed {
			m = m.Scrub()
		}
		out[i] = &m
	}
	return out, nil
}

// readMessage point-reads one message row unscrubbed.
func (s *Store) readMessage(messageBoxID string, created int64) (models.Message, error) {
	data, err := s.rows.Get(msgRowKey(messageBoxID, created))
	if err != nil {
		return models.Message{}, err
	}
	var m models.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return models.Message{}, fmt.Errorf("corrupt message row %s#%d: %w", messageBoxID, created, err)
	}
	return m, nil
}

// writeMessage upserts one message row.
func (s *Store) writeMessage(m models.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", m.ID, err)
	}
	if err := s.rows.Set(msgRowKey(m.MessageBoxID, m.Created), data); err != nil {
		return fmt.Errorf("write message %s: %w", m.ID, err)
	}
	return nil
}
