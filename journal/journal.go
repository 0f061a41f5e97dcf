// Package journal records transfer outcomes that operators may need to act
// on: Confirmed and Ambiguous outcomes, and later resolutions of ambiguous
// ones. Every sink is append-only; a resolution is a new record, never an
// edit of an earlier one.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Outcome kinds written to the journal.
const (
	OutcomeConfirmed = "Confirmed"
	OutcomeAmbiguous = "Ambiguous"

	// Resolution kinds are appended by the reconciler.
	ResolvedConfirmed = "Resolved:Confirmed"
	ResolvedRejected  = "Resolved:Rejected"
	ResolvedExpired   = "Resolved:Expired"
)

// IsResolution reports whether kind closes an earlier Ambiguous record.
func IsResolution(kind string) bool {
	return strings.HasPrefix(kind, "Resolved:")
}

// Record is one journal line. It carries the sender fingerprint only; key
// material never reaches a journal.
type Record struct {
	Timestamp            time.Time `json:"timestamp"`
	Sequence             uint64    `json:"sequence"`
	BatchID              string    `json:"batchId"`
	JobIndex             int       `json:"jobIndex"`
	SenderFingerprint    string    `json:"senderFingerprint"`
	Recipient            string    `json:"recipient"`
	AmountUnits          int64     `json:"amountUnits"`
	TransactionID        string    `json:"transactionId"`
	OutcomeKind          string    `json:"outcomeKind"`
	ErrorKind            string    `json:"errorKind,omitempty"`
	LastValidBlockHeight uint64    `json:"lastValidBlockHeight,omitempty"`
}

// MarshalJSON renders Timestamp in UTC RFC3339Nano.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	p := plain(r)
	p.Timestamp = p.Timestamp.UTC()
	return json.Marshal(p)
}

// Journal is an outcome sink. Implementations are safe for concurrent use.
type Journal interface {
	Record(ctx context.Context, rec Record) error
	Close() error
}

// MultiJournal fans every record out to several journals. A failing sink
// does not stop the others; the errors are joined.
type MultiJournal struct {
	sinks []Journal
}

// NewMultiJournal combines sinks. Nil sinks are skipped.
func NewMultiJournal(sinks ...Journal) *MultiJournal {
	m := &MultiJournal{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of sinks.
func (m *MultiJournal) Len() int {
	return len(m.sinks)
}

// Record writes rec to every sink.
func (m *MultiJournal) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *MultiJournal) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReadRecords parses a JSON-lines journal. Blank lines are skipped.
func ReadRecords(r io.Reader) ([]Record, error) {
	var records []Record

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse journal line %d: %w", lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return records, nil
}

// Unresolved returns the Ambiguous records that no later resolution record
// closes, in journal order.
func Unresolved(records []Record) []Record {
	resolved := make(map[string]bool)
	for _, rec := range records {
		if IsResolution(rec.OutcomeKind) {
			resolved[rec.TransactionID] = true
		}
	}

	var open []Record
	seen := make(map[string]bool)
	for _, rec := range records {
		if rec.OutcomeKind != OutcomeAmbiguous || rec.TransactionID == "" {
			continue
		}
		if resolved[rec.TransactionID] || seen[rec.TransactionID] {
			continue
		}
		seen[rec.TransactionID] = true
		open = append(open, rec)
	}
	return open
}
