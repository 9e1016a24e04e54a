// Package store implements the row store underneath the message-box engine
// on Pebble: point reads and writes by key, batch reads, bounded prefix
// scans in either direction with a continuation token, and TTL-bounded
// inserts backed by an expiry index.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"threadbox/pkg/logger"
)

// ErrClosed is returned when the store is used before Open or after Close.
var ErrClosed = fmt.Errorf("store not opened")

// ErrKeyNotFound is returned by Get for a missing key.
var ErrKeyNotFound = fmt.Errorf("key not found")

// ttlIdxPrefix namespaces the expiry index rows written by SetWithTTL.
const ttlIdxPrefix = "ttlidx:"

// Entry is one key/value pair returned by Scan.
type Entry struct {
	Key   string
	Value []byte
}

// Pebble is a row store over a single Pebble database.
type Pebble struct {
	db      *pebble.DB
	path    string
	metrics *storeMetrics

	// ttlMu serializes ttl index maintenance, which is a read-modify-write
	// over the reverse pointer.
	ttlMu sync.Mutex
}

// Open opens (or creates) a Pebble database at the given path.
func Open(path string) (*Pebble, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Pebble{db: db, path: path, metrics: newStoreMetrics()}, nil
}

// Close closes the database.
func (p *Pebble) Close() error {
	if p.db == nil {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return err
	}
	p.db = nil
	logger.Info("pebble_closed", "path", p.path)
	return nil
}

// Set upserts one row.
func (p *Pebble) Set(key string, value []byte) error {
	if p.db == nil {
		return ErrClosed
	}
	if err := p.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	p.metrics.writes.Inc()
	return nil
}

// Get reads one row; ErrKeyNotFound when absent.
func (p *Pebble) Get(key string) ([]byte, error) {
	if p.db == nil {
		return nil, ErrClosed
	}
	v, closer, err := p.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	out := append([]byte(nil), v...)
	closer.Close()
	p.metrics.reads.Inc()
	return out, nil
}

// BatchGet reads many rows; a missing key leaves a nil slot at its input
// position.
func (p *Pebble) BatchGet(keys []string) ([][]byte, error) {
	if p.db == nil {
		return nil, ErrClosed
	}
	out := make([][]byte, len(keys))
	for i, k := range keys {
		v, err := p.Get(k)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Delete removes one row. Deleting an absent key is not an error.
func (p *Pebble) Delete(key string) error {
	if p.db == nil {
		return ErrClosed
	}
	if err := p.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	p.metrics.deletes.Inc()
	return nil
}

// Scan walks rows under prefix. startExclusive, when non-empty, is a full
// key the scan resumes strictly after (descending: strictly before). Up to
// limit entries are returned together with a continuation token: the last
// key seen when the page was filled, empty when the scan is exhausted.
func (p *Pebble) Scan(prefix, startExclusive string, limit int, descending bool) ([]Entry, string, error) {
	if p.db == nil {
		return nil, "", ErrClosed
	}
	if limit <= 0 {
		return nil, "", fmt.Errorf("scan %s: limit must be positive", prefix)
	}
	lower := []byte(prefix)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(lower),
	})
	if err != nil {
		return nil, "", fmt.Errorf("scan %s: %w", prefix, err)
	}
	defer iter.Close()

	valid := false
	if descending {
		if startExclusive == "" {
			valid = iter.Last()
		} else {
			valid = iter.SeekLT([]byte(startExclusive))
		}
	} else {
		if startExclusive == "" {
			valid = iter.First()
		} else {
			// SeekGE on key+0x00 lands strictly after the start key
			valid = iter.SeekGE(append([]byte(startExclusive), 0))
		}
	}

	var out []Entry
	for ; valid && len(out) < limit; valid = p.advance(iter, descending) {
		out = append(out, Entry{
			Key:   string(iter.Key()),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, "", fmt.Errorf("scan %s: %w", prefix, err)
	}
	p.metrics.scans.Inc()

	token := ""
	if len(out) == limit && valid {
		token = out[len(out)-1].Key
	}
	return out, token, nil
}

func (p *Pebble) advance(iter *pebble.Iterator, descending bool) bool {
	if descending {
		return iter.Prev()
	}
	return iter.Next()
}

// ttlOfPrefix namespaces the reverse pointers from a TTL'd key to its
// current expiry index entry.
const ttlOfPrefix = "ttlof:"

// ttlIndexEntry is the value of an expiry index row.
type ttlIndexEntry struct {
	Key string `json:"key"`
}

func ttlIdxKey(expiresAt time.Time, key string) string {
	return fmt.Sprintf("%s%020d:%s", ttlIdxPrefix, expiresAt.UnixMilli(), key)
}

// SetWithTTL upserts a row and records its expiry in the ttl index so the
// sweeper can purge it after expiresAt. Re-inserting the same key moves
// its index entry forward, so a refresh fully resets the clock. The row
// itself is not filtered at read time; value-level expiry checks stay with
// the caller.
func (p *Pebble) SetWithTTL(key string, value []byte, expiresAt time.Time) error {
	p.ttlMu.Lock()
	defer p.ttlMu.Unlock()
	if err := p.Set(key, value); err != nil {
		return err
	}
	// drop the previous expiry index entry, if any
	if prev, err := p.Get(ttlOfPrefix + key); err == nil {
		if err := p.Delete(string(prev)); err != nil {
			return err
		}
	} else if !IsNotFound(err) {
		return err
	}
	idx := ttlIdxKey(expiresAt, key)
	data, err := json.Marshal(ttlIndexEntry{Key: key})
	if err != nil {
		return fmt.Errorf("marshal ttl index for %s: %w", key, err)
	}
	if err := p.Set(idx, data); err != nil {
		return err
	}
	return p.Set(ttlOfPrefix+key, []byte(idx))
}

// PurgeExpired deletes up to batch rows whose ttl index entries expired
// before now, along with their index entries and reverse pointers. Returns
// the number of purged rows; callers loop until it reports zero.
func (p *Pebble) PurgeExpired(now time.Time, batch int) (int, error) {
	if p.db == nil {
		return 0, ErrClosed
	}
	if batch <= 0 {
		batch = 100
	}
	p.ttlMu.Lock()
	defer p.ttlMu.Unlock()
	cutoff := fmt.Sprintf("%s%020d", ttlIdxPrefix, now.UnixMilli())
	entries, _, err := p.Scan(ttlIdxPrefix, "", batch, false)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, e := range entries {
		if e.Key >= cutoff {
			break
		}
		var idx ttlIndexEntry
		if err := json.Unmarshal(e.Value, &idx); err != nil {
			logger.Warn("ttl_index_corrupt", "key", e.Key, "error", err)
		} else {
			if err := p.Delete(idx.Key); err != nil {
				return purged, err
			}
			if err := p.Delete(ttlOfPrefix + idx.Key); err != nil {
				return purged, err
			}
		}
		if err := p.Delete(e.Key); err != nil {
			return purged, err
		}
		purged++
	}
	if purged > 0 {
		p.metrics.purged.Add(float64(purged))
	}
	return purged, nil
}

// IsNotFound reports whether err wraps ErrKeyNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // all 0xff: no upper bound
}
