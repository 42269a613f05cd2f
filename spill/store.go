// Package spill keeps pending notifications that no longer fit in a
// recipient's in-memory queue. Records live in Pebble, keyed by a hash of the
// recipient and a monotonic sequence, so a prefix scan returns them oldest
// first.
//
// The store is a buffer, not a durable log: it is emptied on Open.
package spill

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
	"github.com/verdant/ordernotify/encoding"
	"github.com/verdant/ordernotify/notify"
)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("spill store is closed")

const prefixSpill = "/spill/" // /spill/{16-hex recipient hash}/{16-hex seq}

// Value header byte
const (
	valueRaw  byte = 0
	valueZstd byte = 1
)

// Pebble configuration constants
const (
	memTableSize             = 16 << 20 // 16MB
	l0CompactionThreshold    = 2
	maxConcurrentCompactions = 1
)

// Options configures a Store
type Options struct {
	Compress bool // zstd-compress values
}

// record is what gets written per spilled notification. The recipient is kept
// alongside the notification so hash collisions can be told apart.
type record struct {
	Recipient    string              `msgpack:"recipient"`
	Notification notify.Notification `msgpack:"notification"`
}

// Store is a Pebble-backed notify.Overflow
type Store struct {
	db   *pebble.DB
	path string

	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder

	seq atomic.Uint64

	mu     sync.Mutex
	counts map[notify.RecipientID]int

	closed atomic.Bool
}

// Open opens the spill store at dir and discards anything left from a previous run
func Open(dir string, opts Options) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		MemTableSize:             memTableSize,
		L0CompactionThreshold:    l0CompactionThreshold,
		MaxConcurrentCompactions: func() int { return maxConcurrentCompactions },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open spill store at %s: %w", dir, err)
	}

	s := &Store{
		db:       db,
		path:     dir,
		compress: opts.Compress,
		counts:   make(map[notify.RecipientID]int),
	}

	if opts.Compress {
		s.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// Values written compressed must stay readable even if compression is toggled off
	s.decoder, err = zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if err := s.truncate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to clear spill store: %w", err)
	}

	log.Info().
		Str("path", dir).
		Bool("compress", opts.Compress).
		Msg("Spill store opened")

	return s, nil
}

func (s *Store) truncate() error {
	prefix := []byte(prefixSpill)
	return s.db.DeleteRange(prefix, prefixUpperBound(prefix), pebble.Sync)
}

// Append writes n after every record already spilled for recipient
func (s *Store) Append(recipient notify.RecipientID, n notify.Notification) error {
	if s.closed.Load() {
		return ErrClosed
	}

	val, err := s.encode(record{Recipient: string(recipient), Notification: n})
	if err != nil {
		return fmt.Errorf("failed to encode notification %d: %w", n.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := formatSpillKey(recipient, s.seq.Add(1))

	if err := s.db.Set(key, val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write notification %d: %w", n.ID, err)
	}
	s.counts[recipient]++

	return nil
}

// DrainAll removes and returns every record spilled for recipient, oldest first
func (s *Store) DrainAll(recipient notify.RecipientID) ([]notify.Notification, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := recipientPrefix(recipient)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	var out []notify.Notification
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			iter.Close()
			return nil, err
		}

		var rec record
		if err := s.decode(val, &rec); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Dropping unreadable spilled notification")
			if err := batch.Delete(iter.Key(), nil); err != nil {
				iter.Close()
				return nil, err
			}
			continue
		}
		if rec.Recipient != string(recipient) {
			continue
		}

		out = append(out, rec.Notification)
		if err := batch.Delete(iter.Key(), nil); err != nil {
			iter.Close()
			return nil, err
		}
	}

	if err := iter.Error(); err != nil {
		iter.Close()
		return nil, err
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to commit drain: %w", err)
	}
	delete(s.counts, recipient)

	if len(out) > 0 {
		log.Debug().
			Str("recipient", string(recipient)).
			Int("count", len(out)).
			Msg("Drained spilled notifications")
	}

	return out, nil
}

// Len returns how many records are spilled for recipient
func (s *Store) Len(recipient notify.RecipientID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[recipient]
}

// Recipients returns the recipients that have spilled records
func (s *Store) Recipients() []notify.RecipientID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]notify.RecipientID, 0, len(s.counts))
	for recipient, n := range s.counts {
		if n > 0 {
			out = append(out, recipient)
		}
	}
	return out
}

// Close closes the underlying Pebble database
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encoder != nil {
		s.encoder.Close()
	}
	if s.decoder != nil {
		s.decoder.Close()
	}

	return s.db.Close()
}

func (s *Store) encode(rec record) ([]byte, error) {
	raw, err := encoding.Marshal(&rec)
	if err != nil {
		return nil, err
	}

	if !s.compress {
		return append([]byte{valueRaw}, raw...), nil
	}

	out := make([]byte, 1, len(raw)/2+1)
	out[0] = valueZstd
	return s.encoder.EncodeAll(raw, out), nil
}

func (s *Store) decode(val []byte, rec *record) error {
	if len(val) == 0 {
		return fmt.Errorf("empty value")
	}

	payload := val[1:]
	switch val[0] {
	case valueRaw:
	case valueZstd:
		var err error
		payload, err = s.decoder.DecodeAll(payload, nil)
		if err != nil {
			return fmt.Errorf("failed to decompress: %w", err)
		}
	default:
		return fmt.Errorf("unknown value header %d", val[0])
	}

	return encoding.Unmarshal(payload, rec)
}

func recipientPrefix(recipient notify.RecipientID) []byte {
	return []byte(fmt.Sprintf("%s%016x/", prefixSpill, xxhash.Sum64String(string(recipient))))
}

// formatSpillKey formats a recipient and sequence as /spill/{hash}/{seq}
func formatSpillKey(recipient notify.RecipientID, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x/%016x", prefixSpill, xxhash.Sum64String(string(recipient)), seq))
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil
}
