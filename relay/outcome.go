package relay

import (
	"time"

	"github.com/solrelay/transfer-relay/errkind"
)

// Outcome is the terminal result of one job. It is never modified after the
// relay creates it.
type Outcome struct {
	// Index is the job's position in the batch input.
	Index int `json:"index"`

	// Sequence orders outcomes by completion across the batch, starting at 1.
	Sequence uint64 `json:"sequence"`

	// SenderFingerprint identifies the sender without revealing the key.
	SenderFingerprint string `json:"senderFingerprint,omitempty"`

	// Recipient is the resolved address, or a fingerprint when the input
	// could not be resolved.
	Recipient   string `json:"recipient,omitempty"`
	AmountUnits int64  `json:"amountUnits"`

	State   State `json:"state"`
	Success bool  `json:"success"`

	// TransactionID is set once a transaction was signed and handed to the
	// chain, including Ambiguous and chain-rejected outcomes.
	TransactionID string `json:"transactionId,omitempty"`

	ErrorKind errkind.Kind `json:"errorKind,omitempty"`
	Error     string       `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Summary counts outcomes by terminal state and error kind.
type Summary struct {
	Total     int            `json:"total"`
	Confirmed int            `json:"confirmed"`
	Rejected  int            `json:"rejected"`
	Ambiguous int            `json:"ambiguous"`
	ByKind    map[string]int `json:"byKind,omitempty"`
}

// Add counts one outcome.
func (s *Summary) Add(o Outcome) {
	s.Total++
	switch o.State {
	case StateConfirmed:
		s.Confirmed++
	case StateRejected:
		s.Rejected++
	case StateAmbiguous:
		s.Ambiguous++
	}
	if o.ErrorKind != errkind.KindNone {
		if s.ByKind == nil {
			s.ByKind = make(map[string]int)
		}
		s.ByKind[o.ErrorKind.String()]++
	}
}

// Summarize counts outcomes.
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		s.Add(o)
	}
	return s
}

// Result is the aggregate of one batch.
type Result struct {
	BatchID  string    `json:"batchId"`
	Outcomes []Outcome `json:"outcomes"`
	Summary  Summary   `json:"summary"`

	// Cancelled is set when the batch context ended before every job started.
	Cancelled bool `json:"cancelled,omitempty"`

	// JournalErrors counts journal writes that failed. Outcomes are unaffected.
	JournalErrors int `json:"journalErrors,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}
