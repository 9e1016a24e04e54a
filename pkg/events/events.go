// Package events defines the lifecycle event seam between the message-box
// engine and downstream consumers (notification, indexing). Events are
// emitted synchronously after the corresponding durable write.
package events

import (
	"threadbox/pkg/logger"
	"threadbox/pkg/models"
)

// Emitter receives message lifecycle events.
type Emitter interface {
	CreatedMessage(msg models.Message)
	UpdatedMessage(messageID, newBody string)
	DeletedMessage(messageID string, deleteType models.DeleteType)
}

// NopEmitter drops all events.
type NopEmitter struct{}

func (NopEmitter) CreatedMessage(models.Message)            {}
func (NopEmitter) UpdatedMessage(string, string)            {}
func (NopEmitter) DeletedMessage(string, models.DeleteType) {}

// LogEmitter writes events to the process log; the default when no
// consumer is wired in.
type LogEmitter struct{}

func (LogEmitter) CreatedMessage(msg models.Message) {
	logger.Info("created_message", "id", msg.ID, "box", msg.MessageBoxID, "level", msg.Level)
}

func (LogEmitter) UpdatedMessage(messageID, _ string) {
	logger.Info("updated_message", "id", messageID)
}

func (LogEmitter) DeletedMessage(messageID string, deleteType models.DeleteType) {
	logger.Info("deleted_message", "id", messageID, "type", deleteType)
}

// Event is one recorded lifecycle event, as delivered by ChanEmitter.
type Event struct {
	Kind       string
	Message    models.Message
	MessageID  string
	NewBody    string
	DeleteType models.DeleteType
}

// ChanEmitter forwards events to a channel for embedding consumers. Events
// are dropped, with a warn log, when the channel is full; the engine never
// blocks on a slow consumer.
type ChanEmitter struct {
	C chan Event
}

// NewChanEmitter builds a ChanEmitter with the given buffer size.
func NewChanEmitter(buffer int) *ChanEmitter {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanEmitter{C: make(chan Event, buffer)}
}

func (e *ChanEmitter) send(ev Event) {
	select {
	case e.C <- ev:
	default:
		logger.Warn("event_dropped", "kind", ev.Kind, "id", ev.MessageID)
	}
}

func (e *ChanEmitter) CreatedMessage(msg models.Message) {
	e.send(Event{Kind: "createdMessage", Message: msg, MessageID: msg.ID})
}

func (e *ChanEmitter) UpdatedMessage(messageID, newBody string) {
	e.send(Event{Kind: "updatedMessage", MessageID: messageID, NewBody: newBody})
}

func (e *ChanEmitter) DeletedMessage(messageID string, deleteType models.DeleteType) {
	e.send(Event{Kind: "deletedMessage", MessageID: messageID, DeleteType: deleteType})
}
