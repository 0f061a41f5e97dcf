package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solrelay/transfer-relay/logging"
)

func testLogger() logging.Logger {
	return logging.NewLoggerWithWriter(logging.DefaultConfig(), io.Discard)
}

func testRecord(seq uint64, kind string) Record {
	return Record{
		Timestamp:            time.Date(2026, 1, 2, 3, 4, 5, 600, time.FixedZone("X", 3600)),
		Sequence:             seq,
		BatchID:              "batch-1",
		JobIndex:             int(seq),
		SenderFingerprint:    "fp_00112233445566778899",
		Recipient:            "11111111111111111111111111111112",
		AmountUnits:          1000,
		TransactionID:        fmt.Sprintf("tx-%d", seq),
		OutcomeKind:          kind,
		LastValidBlockHeight: 1150,
	}
}

func TestRecord_JSON(t *testing.T) {
	rec := testRecord(1, OutcomeAmbiguous)
	rec.ErrorKind = "Timeout"

	data, err := rec.MarshalJSON()
	require.NoError(t, err)
	s := string(data)

	require.Contains(t, s, `"timestamp":"2026-01-02T02:04:05.0000006Z"`)
	require.Contains(t, s, `"batchId":"batch-1"`)
	require.Contains(t, s, `"senderFingerprint":"fp_00112233445566778899"`)
	require.Contains(t, s, `"transactionId":"tx-1"`)
	require.Contains(t, s, `"outcomeKind":"Ambiguous"`)
	require.Contains(t, s, `"errorKind":"Timeout"`)
	require.Contains(t, s, `"lastValidBlockHeight":1150`)

	confirmed, err := testRecord(2, OutcomeConfirmed).MarshalJSON()
	require.NoError(t, err)
	require.NotContains(t, string(confirmed), "errorKind")
}

func TestFileJournal_AppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.jsonl")
	ctx := context.Background()

	j, err := OpenFileJournal(testLogger(), path)
	require.NoError(t, err)
	require.Equal(t, path, j.Path())
	require.NoError(t, j.Record(ctx, testRecord(1, OutcomeConfirmed)))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
	require.Error(t, j.Record(ctx, testRecord(9, OutcomeConfirmed)))

	// Reopening appends after existing lines.
	j, err = OpenFileJournal(testLogger(), path)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, testRecord(2, OutcomeAmbiguous)))
	require.NoError(t, j.Close())

	records, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, uint64(1), records[0].Sequence)
	require.Equal(t, OutcomeAmbiguous, records[1].OutcomeKind)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileJournal_ConcurrentWritesDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := OpenFileJournal(testLogger(), path)
	require.NoError(t, err)

	const writers = 16
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				seq := uint64(w*perWriter + i)
				require.NoError(t, j.Record(context.Background(), testRecord(seq, OutcomeConfirmed)))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, j.Close())

	records, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, records, writers*perWriter)

	seen := make(map[uint64]bool)
	for _, rec := range records {
		seen[rec.Sequence] = true
	}
	require.Len(t, seen, writers*perWriter)
}

func TestOpenFileJournal_Errors(t *testing.T) {
	_, err := OpenFileJournal(testLogger(), "")
	require.Error(t, err)

	dir := t.TempDir()
	_, err = OpenFileJournal(testLogger(), dir)
	require.Error(t, err)
}

func TestReadRecords(t *testing.T) {
	input := strings.Join([]string{
		`{"sequence":1,"transactionId":"a","outcomeKind":"Ambiguous"}`,
		``,
		`{"sequence":2,"transactionId":"b","outcomeKind":"Confirmed"}`,
	}, "\n")
	records, err := ReadRecords(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)

	_, err = ReadRecords(strings.NewReader("{\"sequence\":1}\nnot json\n"))
	require.ErrorContains(t, err, "line 2")
}

func TestUnresolved(t *testing.T) {
	records := []Record{
		testRecord(1, OutcomeAmbiguous),
		testRecord(2, OutcomeConfirmed),
		testRecord(3, OutcomeAmbiguous),
		testRecord(4, OutcomeAmbiguous),
		{TransactionID: "tx-3", OutcomeKind: ResolvedConfirmed},
		{OutcomeKind: OutcomeAmbiguous},
	}
	// Duplicate ambiguous line for the same id.
	records = append(records, testRecord(4, OutcomeAmbiguous))

	open := Unresolved(records)
	require.Len(t, open, 2)
	require.Equal(t, "tx-1", open[0].TransactionID)
	require.Equal(t, "tx-4", open[1].TransactionID)

	require.True(t, IsResolution(ResolvedExpired))
	require.False(t, IsResolution(OutcomeAmbiguous))
}

type failingJournal struct {
	calls  int
	closed bool
}

func (f *failingJournal) Record(context.Context, Record) error {
	f.calls++
	return errors.New("sink down")
}

func (f *failingJournal) Close() error {
	f.closed = true
	return nil
}

func TestMultiJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	file, err := OpenFileJournal(testLogger(), path)
	require.NoError(t, err)
	bad := &failingJournal{}

	m := NewMultiJournal(bad, nil, file)
	require.Equal(t, 2, m.Len())

	err = m.Record(context.Background(), testRecord(1, OutcomeConfirmed))
	require.ErrorContains(t, err, "sink down")
	require.Equal(t, 1, bad.calls)

	require.NoError(t, m.Close())
	require.True(t, bad.closed)

	// The healthy sink still got the record.
	records, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
}
