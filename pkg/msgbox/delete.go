package msgbox

import (
	"context"
	"encoding/json"
	"fmt"

	"threadbox/pkg/models"
	"threadbox/pkg/store"
	"threadbox/pkg/threadkey"
)

// DeleteMessage applies the hard/soft/leaf deletion policy to one message
// and reports the delete type actually performed. Soft deletion returns
// the scrubbed message; hard deletion returns no message.
//
// Leaf (the default) hard-deletes a message with no replies and
// soft-deletes one with replies, so a thread never loses the anchor its
// descendants hang from.
func (s *Store) DeleteMessage(ctx context.Context, messageBoxID string, created int64, deleteType models.DeleteType) (models.DeleteType, *models.Message, error) {
	if messageBoxID == "" {
		return "", nil, invalid("messageBoxId", "must not be empty")
	}
	if created <= 0 {
		return "", nil, invalid("created", "must be a positive timestamp")
	}
	if deleteType == "" {
		deleteType = models.DeleteLeaf
	}
	if !deleteType.Valid() {
		return "", nil, invalid("deleteType", fmt.Sprintf("unknown value %q", deleteType))
	}

	msg, err := s.readMessage(messageBoxID, created)
	if err != nil {
		if store.IsNotFound(err) {
			return "", nil, fmt.Errorf("%w: %s#%d", ErrNotFound, messageBoxID, created)
		}
		return "", nil, err
	}

	performed := deleteType
	if deleteType == models.DeleteLeaf {
		hasReplies, err := s.hasReplies(msg)
		if err != nil {
			return "", nil, err
		}
		if hasReplies {
			performed = models.DeleteSoft
		} else {
			performed = models.DeleteHard
		}
	}

	switch performed {
	case models.DeleteHard:
		if err := s.hardDelete(msg); err != nil {
			return "", nil, err
		}
		s.metrics.deleted.WithLabelValues(string(models.DeleteHard)).Inc()
		s.emitter.DeletedMessage(msg.ID, models.DeleteHard)
		return models.DeleteHard, nil, nil
	default:
		scrubbed, err := s.softDelete(msg)
		if err != nil {
			return "", nil, err
		}
		s.metrics.deleted.WithLabelValues(string(models.DeleteSoft)).Inc()
		s.emitter.DeletedMessage(msg.ID, models.DeleteSoft)
		return models.DeleteSoft, &scrubbed, nil
	}
}

// hasReplies tests leaf-ness: in thread-key order, a reply of msg is the
// entry directly after it, so one scan step decides.
func (s *Store) hasReplies(msg models.Message) (bool, error) {
	next, _, err := s.rows.Scan(idxPrefix(msg.MessageBoxID), idxRowKey(msg.MessageBoxID, msg.ThreadKey), 1, false)
	if err != nil {
		return false, fmt.Errorf("scan for replies of %s: %w", msg.ID, err)
	}
	if len(next) == 0 {
		return false, nil
	}
	prefix, err := threadkey.WithoutTerminator(msg.ThreadKey)
	if err != nil {
		return false, err
	}
	nextKey := next[0].Key[len(idxPrefix(msg.MessageBoxID)):]
	return threadkey.IsDescendant(nextKey, prefix), nil
}

// softDelete marks the row deleted in place. Re-deleting an already
// soft-deleted message keeps the original deletion timestamp, so a second
// scrub is a no-op.
func (s *Store) softDelete(msg models.Message) (models.Message, error) {
	if msg.Deleted == nil {
		now := s.now().UnixMilli()
		msg.Deleted = &now
		if err := s.writeMessage(msg); err != nil {
			return models.Message{}, err
		}
	}
	return msg.Scrub(), nil
}

// hardDelete writes the tombstone, unindexes the message and finally runs
// the soft transition on the row so buffered references resolve to a
// scrubbed record rather than a missing one.
func (s *Store) hardDelete(msg models.Message) error {
	tomb := models.Tombstone{
		MessageBoxID: msg.MessageBoxID,
		Created:      msg.Created,
		ThreadKey:    msg.ThreadKey,
		DeletedAt:    s.now().UnixMilli(),
	}
	data, err := json.Marshal(tomb)
	if err != nil {
		return fmt.Errorf("marshal tombstone %s: %w", msg.ID, err)
	}
	if err := s.rows.Set(tombRowKey(msg.MessageBoxID, msg.Created), data); err != nil {
		return fmt.Errorf("write tombstone %s: %w", msg.ID, err)
	}
	if err := s.rows.Delete(idxRowKey(msg.MessageBoxID, msg.ThreadKey)); err != nil {
		return fmt.Errorf("unindex %s: %w", msg.ID, err)
	}
	if _, err := s.softDelete(msg); err != nil {
		return err
	}
	return nil
}
