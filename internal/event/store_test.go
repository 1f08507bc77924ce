package event

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/dagizoltan/zx-proto-sub001/internal/platform/kv"
	dErrors "github.com/dagizoltan/zx-proto-sub001/pkg/domain-errors"
)

// EventStoreSuite covers the append/read contract.
//
// Justification: the whole platform leans on two invariants proven here —
// contiguous version numbering per stream, and exactly-one-winner semantics
// for concurrent appends with the same expected version.
type EventStoreSuite struct {
	suite.Suite
	kv    *kv.MemoryStore
	store *Store
	ctx   context.Context
}

func TestEventStoreSuite(t *testing.T) {
	suite.Run(t, new(EventStoreSuite))
}

func (s *EventStoreSuite) SetupTest() {
	s.kv = kv.NewMemoryStore()
	s.store = NewStore(s.kv)
	s.ctx = context.Background()
}

type testPayload struct {
	N int `json:"n"`
}

func pendingN(n int) Pending {
	return Pending{Type: "TestHappened", Data: testPayload{N: n}}
}

func (s *EventStoreSuite) TestAppendAssignsContiguousVersions() {
	first, err := s.store.Append(s.ctx, "t1", "s1", []Pending{pendingN(1), pendingN(2)}, 0)
	s.Require().NoError(err)
	s.Require().Len(first, 2)
	s.EqualValues(1, first[0].Version)
	s.EqualValues(2, first[1].Version)
	s.NotEmpty(first[0].ID)
	s.Equal("t1", first[0].TenantID)
	s.Equal("s1", first[0].StreamID)
	s.False(first[0].Timestamp.IsZero())

	second, err := s.store.Append(s.ctx, "t1", "s1", []Pending{pendingN(3)}, 2)
	s.Require().NoError(err)
	s.EqualValues(3, second[0].Version)

	history, err := s.store.ReadStream(s.ctx, "t1", "s1", 0)
	s.Require().NoError(err)
	s.Require().Len(history, 3)
	for i, evt := range history {
		s.EqualValues(i+1, evt.Version, "versions must be contiguous from 1")
	}
}

func (s *EventStoreSuite) TestExpectedVersionMismatchCommitsNothing() {
	_, err := s.store.Append(s.ctx, "t1", "s1", []Pending{pendingN(1)}, 0)
	s.Require().NoError(err)

	_, err = s.store.Append(s.ctx, "t1", "s1", []Pending{pendingN(2)}, 0)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	history, err := s.store.ReadStream(s.ctx, "t1", "s1", 0)
	s.Require().NoError(err)
	s.Len(history, 1, "loser must not commit")
}

func (s *EventStoreSuite) TestVersionAnySkipsCheck() {
	_, err := s.store.Append(s.ctx, "t1", "s1", []Pending{pendingN(1)}, 0)
	s.Require().NoError(err)

	_, err = s.store.Append(s.ctx, "t1", "s1", []Pending{pendingN(2)}, VersionAny)
	s.Require().NoError(err)

	current, err := s.store.CurrentVersion(s.ctx, "t1", "s1")
	s.Require().NoError(err)
	s.EqualValues(2, current)
}

func (s *EventStoreSuite) TestConcurrentAppendsExactlyOneWinner() {
	// Many writers race on the same stream at expected version 0.
	const writers = 16
	var wg sync.WaitGroup
	results := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.store.Append(s.ctx, "t1", "hot", []Pending{pendingN(i)}, 0)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		}
	}
	s.Equal(1, wins, "exactly one append at the same expected version may win")

	history, err := s.store.ReadStream(s.ctx, "t1", "hot", 0)
	s.Require().NoError(err)
	s.Len(history, 1)
	s.EqualValues(1, history[0].Version)
}

func (s *EventStoreSuite) TestReadStreamFromVersion() {
	_, err := s.store.Append(s.ctx, "t1", "s1", []Pending{pendingN(1), pendingN(2), pendingN(3)}, 0)
	s.Require().NoError(err)

	tail, err := s.store.ReadStream(s.ctx, "t1", "s1", 1)
	s.Require().NoError(err)
	s.Require().Len(tail, 2)
	s.EqualValues(2, tail[0].Version)
	s.EqualValues(3, tail[1].Version)
}

func (s *EventStoreSuite) TestAppendEnqueuesEnvelopePerEvent() {
	committed, err := s.store.Append(s.ctx, "t1", "s1", []Pending{pendingN(1), pendingN(2)}, 0)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	var envelopes []Envelope
	_ = s.kv.Listen(ctx, func(_ context.Context, msg []byte) error {
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			return err
		}
		envelopes = append(envelopes, env)
		if len(envelopes) == 2 {
			cancel()
		}
		return nil
	})

	s.Require().Len(envelopes, 2)
	for i, env := range envelopes {
		s.Equal(EnvelopeKindDomainEvent, env.Kind)
		s.Equal(committed[i].ID, env.Event.ID)
		s.Equal(committed[i].Version, env.Event.Version)
	}
}

func (s *EventStoreSuite) TestTenantIsolation() {
	_, err := s.store.Append(s.ctx, "t1", "s1", []Pending{pendingN(1)}, 0)
	s.Require().NoError(err)
	_, err = s.store.Append(s.ctx, "t2", "s1", []Pending{pendingN(9)}, 0)
	s.Require().NoError(err)

	all, err := s.store.ReadAll(s.ctx, "t1")
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal("t1", all[0].TenantID)
}
