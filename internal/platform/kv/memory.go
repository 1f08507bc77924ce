package kv

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with the same semantics as BoltStore.
// Used by tests and as the swap-in fake for component wiring.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]record
	queue   []queuedMsg
	nextSeq uint64
	notify  chan struct{}
	log     *slog.Logger
}

type queuedMsg struct {
	seq uint64
	msg []byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:   make(map[string]record),
		notify: make(chan struct{}, 1),
	}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := Entry{Key: key}
	if rec, ok := s.data[string(key.Encode())]; ok && !rec.expired(time.Now()) {
		entry.Value = append(json.RawMessage(nil), rec.Value...)
		entry.Version = rec.Version
	}
	return entry, nil
}

func (s *MemoryStore) List(_ context.Context, prefix Key) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan := string(prefix.Encode()) + keySep
	now := time.Now()
	var keys []string
	for k, rec := range s.data {
		if strings.HasPrefix(k, scan) && !rec.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		rec := s.data[k]
		entries = append(entries, Entry{
			Key:     DecodeKey([]byte(k)),
			Value:   append(json.RawMessage(nil), rec.Value...),
			Version: rec.Version,
		})
	}
	return entries, nil
}

func (s *MemoryStore) Atomic() Txn {
	return &memoryTxn{store: s}
}

type memoryTxn struct {
	store *MemoryStore
	ops   []op
	err   error
}

func (t *memoryTxn) Check(key Key, version uint64) Txn {
	t.ops = append(t.ops, op{kind: opCheck, key: key, version: version})
	return t
}

func (t *memoryTxn) Set(key Key, value any) Txn {
	return t.SetTTL(key, value, 0)
}

func (t *memoryTxn) SetTTL(key Key, value any, ttl time.Duration) Txn {
	raw, err := marshalOp(value)
	if err != nil {
		t.err = err
		return t
	}
	t.ops = append(t.ops, op{kind: opSet, key: key, value: raw, ttl: ttl})
	return t
}

func (t *memoryTxn) Delete(key Key) Txn {
	t.ops = append(t.ops, op{kind: opDelete, key: key})
	return t
}

func (t *memoryTxn) Enqueue(msg any) Txn {
	raw, err := marshalOp(msg)
	if err != nil {
		t.err = err
		return t
	}
	t.ops = append(t.ops, op{kind: opEnqueue, value: raw})
	return t
}

func (t *memoryTxn) Commit(_ context.Context) error {
	if t.err != nil {
		return t.err
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, o := range t.ops {
		if o.kind != opCheck {
			continue
		}
		version := uint64(0)
		if rec, ok := s.data[string(o.key.Encode())]; ok && !rec.expired(now) {
			version = rec.Version
		}
		if version != o.version {
			return ErrVersionConflict
		}
	}

	enqueued := false
	for _, o := range t.ops {
		switch o.kind {
		case opSet:
			k := string(o.key.Encode())
			rec := record{Value: o.value, Version: s.data[k].Version + 1}
			if o.ttl > 0 {
				rec.ExpiresAt = now.Add(o.ttl).UnixNano()
			}
			s.data[k] = rec
		case opDelete:
			delete(s.data, string(o.key.Encode()))
		case opEnqueue:
			s.nextSeq++
			s.queue = append(s.queue, queuedMsg{seq: s.nextSeq, msg: o.value})
			enqueued = true
		}
	}
	if enqueued {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *MemoryStore) Listen(ctx context.Context, fn func(context.Context, []byte) error) error {
	return listen(ctx, (*memoryQueue)(s), fn, s.log)
}

type memoryQueue MemoryStore

func (q *memoryQueue) peek(_ context.Context) (uint64, []byte, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return 0, nil, false, nil
	}
	head := q.queue[0]
	return head.seq, append([]byte(nil), head.msg...), true, nil
}

func (q *memoryQueue) ack(_ context.Context, seq uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) > 0 && q.queue[0].seq == seq {
		q.queue = q.queue[1:]
	}
	return nil
}

func (q *memoryQueue) wakeup() <-chan struct{} { return q.notify }

func (s *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	purged := 0
	for k, rec := range s.data {
		if rec.expired(now) {
			delete(s.data, k)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) Close() error { return nil }
