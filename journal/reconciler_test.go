package journal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/solrelay/transfer-relay/chain"
	"github.com/solrelay/transfer-relay/errkind"
	"github.com/solrelay/transfer-relay/testutil"
)

type memoryJournal struct {
	mu      sync.Mutex
	records []Record
}

func (m *memoryJournal) Record(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryJournal) Close() error { return nil }

func (m *memoryJournal) snapshot() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

func TestReconciler_ResolveAll(t *testing.T) {
	fc := testutil.NewFakeChain()
	fc.SetBlockHeight(2000)

	confirmed := testRecord(1, OutcomeAmbiguous)
	fc.SetStatus(confirmed.TransactionID, chain.Status{Found: true, Confirmation: chain.CommitmentFinalized})

	failed := testRecord(2, OutcomeAmbiguous)
	fc.SetStatus(failed.TransactionID, chain.Status{Found: true, Confirmation: chain.CommitmentConfirmed, Err: "InstructionError"})

	processedOnly := testRecord(3, OutcomeAmbiguous)
	fc.SetStatus(processedOnly.TransactionID, chain.Status{Found: true, Confirmation: chain.CommitmentProcessed})

	expired := testRecord(4, OutcomeAmbiguous)
	expired.LastValidBlockHeight = 1500

	stillValid := testRecord(5, OutcomeAmbiguous)
	stillValid.LastValidBlockHeight = 2100

	noHeight := testRecord(6, OutcomeAmbiguous)
	noHeight.LastValidBlockHeight = 0

	mem := &memoryJournal{}
	r := NewReconciler(testLogger(), fc, mem, ReconcilerConfig{Commitment: chain.CommitmentConfirmed})
	fixed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	resolutions := r.ResolveAll(context.Background(),
		[]Record{confirmed, failed, processedOnly, expired, stillValid, noHeight})
	require.Len(t, resolutions, 6)

	want := []string{ResolvedConfirmed, ResolvedRejected, Pending, ResolvedExpired, Pending, Pending}
	for i, res := range resolutions {
		require.NoError(t, res.Err, "record %d", i)
		require.Equal(t, want[i], res.Outcome, "record %d", i)
	}

	written := mem.snapshot()
	require.Len(t, written, 3)
	require.Equal(t, ResolvedConfirmed, written[0].OutcomeKind)
	require.Equal(t, fixed, written[0].Timestamp)
	require.Equal(t, "tx-1", written[0].TransactionID)
	require.Equal(t, ResolvedRejected, written[1].OutcomeKind)
	require.Equal(t, errkind.RejectedByChain.String(), written[1].ErrorKind)
	require.Equal(t, ResolvedExpired, written[2].OutcomeKind)
}

func TestReconciler_StatusErrorStaysPending(t *testing.T) {
	fc := testutil.NewFakeChain()
	fc.ScriptStatus(errkind.Wrap(errkind.NetworkError, "signature_status", errors.New("reset")))

	mem := &memoryJournal{}
	r := NewReconciler(testLogger(), fc, mem, ReconcilerConfig{})

	res := r.Resolve(context.Background(), testRecord(1, OutcomeAmbiguous))
	require.Equal(t, Pending, res.Outcome)
	require.True(t, errkind.Is(res.Err, errkind.NetworkError))
	require.Empty(t, mem.snapshot())

	res = r.Resolve(context.Background(), Record{OutcomeKind: OutcomeAmbiguous})
	require.True(t, errkind.Is(res.Err, errkind.Internal))
}

func TestReconciler_CancelledContext(t *testing.T) {
	fc := testutil.NewFakeChain()
	r := NewReconciler(testLogger(), fc, nil, ReconcilerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resolutions := r.ResolveAll(ctx, []Record{testRecord(1, OutcomeAmbiguous), testRecord(2, OutcomeAmbiguous)})
	require.Len(t, resolutions, 2)
	for _, res := range resolutions {
		require.Equal(t, Pending, res.Outcome)
		require.True(t, errkind.Is(res.Err, errkind.Cancelled))
	}
	require.Zero(t, fc.StatusCalls())
}

type ReconcilerFollowSuite struct {
	testutil.RedisTestSuite
}

func TestReconcilerFollowSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerFollowSuite))
}

func (s *ReconcilerFollowSuite) TestFollowResolvesNewAmbiguousEntries() {
	fc := testutil.NewFakeChain()
	j := NewRedisJournal(testLogger(), s.RedisClient, RedisJournalConfig{})

	// Already open before the reconciler starts: resolved by the first sweep.
	early := testRecord(1, OutcomeAmbiguous)
	fc.SetStatus(early.TransactionID, chain.Status{Found: true, Confirmation: chain.CommitmentFinalized})
	s.Require().NoError(j.Record(s.Ctx, early))

	consumer, err := j.NewConsumer("r1", time.Minute, 20*time.Millisecond)
	s.Require().NoError(err)
	defer consumer.Close()

	s.Require().NoError(consumer.EnsureGroup(s.Ctx))

	r := NewReconciler(testLogger(), fc, j, ReconcilerConfig{SweepInterval: time.Hour})

	ctx, cancel := context.WithCancel(s.Ctx)
	done := make(chan error, 1)
	go func() { done <- r.Follow(ctx, consumer, j) }()

	late := testRecord(2, OutcomeAmbiguous)
	fc.SetStatus(late.TransactionID, chain.Status{Found: true, Confirmation: chain.CommitmentFinalized, Err: "InstructionError"})
	s.Require().NoError(j.Record(s.Ctx, late))

	s.Require().Eventually(func() bool {
		open, aErr := j.Ambiguous(s.Ctx)
		return aErr == nil && len(open) == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err = <-done:
		s.Require().NoError(err)
	case <-time.After(5 * time.Second):
		s.FailNow("Follow did not return")
	}

	kinds := make(map[string]string)
	for _, entry := range s.StreamEntries(s.RedisClient.KB().JournalStreamKey()) {
		var rec Record
		s.Require().NoError(json.Unmarshal([]byte(entry.Values["data"].(string)), &rec))
		if IsResolution(rec.OutcomeKind) {
			kinds[rec.TransactionID] = rec.OutcomeKind
		}
	}
	s.Require().Equal(ResolvedConfirmed, kinds["tx-1"])
	s.Require().Equal(ResolvedRejected, kinds["tx-2"])
}
