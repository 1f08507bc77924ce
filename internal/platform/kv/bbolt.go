package kv

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

var (
	dataBucket  = []byte("data")
	queueBucket = []byte("queue")
)

// BoltStore is the production Store backed by a single bbolt file. bbolt
// serializes writers, so version checks and mutations inside one Update
// are atomic with respect to every other transaction.
type BoltStore struct {
	db     *bolt.DB
	notify chan struct{}
	log    *slog.Logger
}

// BoltOption configures the BoltStore.
type BoltOption func(*BoltStore)

// WithLogger sets a logger for queue delivery diagnostics.
func WithLogger(log *slog.Logger) BoltOption {
	return func(s *BoltStore) {
		if log != nil {
			s.log = log
		}
	}
}

// Open opens (or creates) a bbolt-backed store at the given path.
func Open(path string, opts ...BoltOption) (*BoltStore, error) {
	if path == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "kv: storage path is required")
	}
	db, err := bolt.Open(filepath.Clean(path), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "kv: open database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(dataBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(queueBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "kv: create buckets")
	}
	s := &BoltStore{db: db, notify: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *BoltStore) Get(_ context.Context, key Key) (Entry, error) {
	entry := Entry{Key: key}
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(dataBucket).Get(key.Encode())
		if raw == nil {
			return nil
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if rec.expired(time.Now()) {
			return nil
		}
		entry.Value = append(json.RawMessage(nil), rec.Value...)
		entry.Version = rec.Version
		return nil
	})
	if err != nil {
		return Entry{}, dErrors.Wrap(err, dErrors.CodeInternal, "kv: get")
	}
	return entry, nil
}

func (s *BoltStore) List(_ context.Context, prefix Key) ([]Entry, error) {
	scan := append(prefix.Encode(), keySep...)
	now := time.Now()
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(dataBucket).Cursor()
		for k, v := c.Seek(scan); k != nil && bytes.HasPrefix(k, scan); k, v = c.Next() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.expired(now) {
				continue
			}
			entries = append(entries, Entry{
				Key:     DecodeKey(append([]byte(nil), k...)),
				Value:   append(json.RawMessage(nil), rec.Value...),
				Version: rec.Version,
			})
		}
		return nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "kv: list")
	}
	return entries, nil
}

func (s *BoltStore) Atomic() Txn {
	return &boltTxn{store: s}
}

type boltTxn struct {
	store *BoltStore
	ops   []op
	err   error
}

func (t *boltTxn) Check(key Key, version uint64) Txn {
	t.ops = append(t.ops, op{kind: opCheck, key: key, version: version})
	return t
}

func (t *boltTxn) Set(key Key, value any) Txn {
	return t.SetTTL(key, value, 0)
}

func (t *boltTxn) SetTTL(key Key, value any, ttl time.Duration) Txn {
	raw, err := marshalOp(value)
	if err != nil {
		t.err = err
		return t
	}
	t.ops = append(t.ops, op{kind: opSet, key: key, value: raw, ttl: ttl})
	return t
}

func (t *boltTxn) Delete(key Key) Txn {
	t.ops = append(t.ops, op{kind: opDelete, key: key})
	return t
}

func (t *boltTxn) Enqueue(msg any) Txn {
	raw, err := marshalOp(msg)
	if err != nil {
		t.err = err
		return t
	}
	t.ops = append(t.ops, op{kind: opEnqueue, value: raw})
	return t
}

func (t *boltTxn) Commit(_ context.Context) error {
	if t.err != nil {
		return t.err
	}
	now := time.Now()
	enqueued := false
	err := t.store.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(dataBucket)

		// All checks run first so a conflict aborts before any mutation.
		for _, o := range t.ops {
			if o.kind != opCheck {
				continue
			}
			if currentVersion(data, o.key, now) != o.version {
				return ErrVersionConflict
			}
		}

		for _, o := range t.ops {
			switch o.kind {
			case opSet:
				rec := record{Value: o.value, Version: storedVersion(data, o.key) + 1}
				if o.ttl > 0 {
					rec.ExpiresAt = now.Add(o.ttl).UnixNano()
				}
				raw, err := json.Marshal(rec)
				if err != nil {
					return err
				}
				if err := data.Put(o.key.Encode(), raw); err != nil {
					return err
				}
			case opDelete:
				if err := data.Delete(o.key.Encode()); err != nil {
					return err
				}
			case opEnqueue:
				qb := tx.Bucket(queueBucket)
				seq, err := qb.NextSequence()
				if err != nil {
					return err
				}
				if err := qb.Put(seqKey(seq), o.value); err != nil {
					return err
				}
				enqueued = true
			}
		}
		return nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "kv: commit")
	}
	if enqueued {
		select {
		case t.store.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// currentVersion is the CAS token visible to readers: absent and expired
// records both read as 0.
func currentVersion(data *bolt.Bucket, key Key, now time.Time) uint64 {
	raw := data.Get(key.Encode())
	if raw == nil {
		return 0
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil || rec.expired(now) {
		return 0
	}
	return rec.Version
}

// storedVersion keeps the version counter monotonic across expiry so a
// stale token can never match a rewritten key.
func storedVersion(data *bolt.Bucket, key Key) uint64 {
	raw := data.Get(key.Encode())
	if raw == nil {
		return 0
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return 0
	}
	return rec.Version
}

func (s *BoltStore) Listen(ctx context.Context, fn func(context.Context, []byte) error) error {
	return listen(ctx, (*boltQueue)(s), fn, s.log)
}

type boltQueue BoltStore

func (q *boltQueue) peek(_ context.Context) (uint64, []byte, bool, error) {
	var (
		seq uint64
		msg []byte
		ok  bool
	)
	err := q.db.View(func(tx *bolt.Tx) error {
		k, v := tx.Bucket(queueBucket).Cursor().First()
		if k == nil {
			return nil
		}
		seq = binary.BigEndian.Uint64(k)
		msg = append([]byte(nil), v...)
		ok = true
		return nil
	})
	if err != nil {
		return 0, nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "kv: queue peek")
	}
	return seq, msg, ok, nil
}

func (q *boltQueue) ack(_ context.Context, seq uint64) error {
	err := q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(queueBucket).Delete(seqKey(seq))
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "kv: queue ack")
	}
	return nil
}

func (q *boltQueue) wakeup() <-chan struct{} { return q.notify }

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

func (s *BoltStore) SweepExpired(_ context.Context) (int, error) {
	now := time.Now()
	purged := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(dataBucket)
		c := data.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.expired(now) {
				if err := c.Delete(); err != nil {
					return err
				}
				purged++
			}
		}
		return nil
	})
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "kv: sweep expired")
	}
	return purged, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
