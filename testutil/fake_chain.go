package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/solrelay/transfer-relay/chain"
	"github.com/solrelay/transfer-relay/transfer"
)

var _ chain.Client = (*FakeChain)(nil)

// FakeChain is an in-memory chain.Client driven by scripts.
//
// By default every FetchFreshness returns a new blockhash, every Submit lands
// at the finalized commitment, and SignatureStatus reports what landed.
// Scripted submit errors are consumed one per Submit call.
type FakeChain struct {
	mu sync.Mutex

	freshnessCalls int
	fixedFreshness *transfer.FreshnessToken
	freshnessErrs  []error
	validFor       uint64

	submitErrs  []error
	landOnError bool
	submitHook  func(ctx context.Context, tx *transfer.SignedTransaction) error
	submitCalls int
	submitted   []*transfer.SignedTransaction
	failOnChain map[solana.PublicKey]string
	landedAt    chain.Commitment
	statuses    map[string]chain.Status
	statusErrs  []error
	statusCalls int
	blockHeight uint64
	healthErr   error
}

// NewFakeChain creates a FakeChain at block height 1000 whose blockhashes
// stay valid for 150 blocks.
func NewFakeChain() *FakeChain {
	return &FakeChain{
		validFor:    150,
		failOnChain: make(map[solana.PublicKey]string),
		landedAt:    chain.CommitmentFinalized,
		statuses:    make(map[string]chain.Status),
		blockHeight: 1000,
	}
}

// FixFreshness makes every FetchFreshness return tok.
func (f *FakeChain) FixFreshness(tok transfer.FreshnessToken) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixedFreshness = &tok
}

// ScriptFreshness queues errors for upcoming FetchFreshness calls. A nil
// entry lets that call succeed.
func (f *FakeChain) ScriptFreshness(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freshnessErrs = append(f.freshnessErrs, errs...)
}

// ScriptSubmit queues errors for upcoming Submit calls. A nil entry lets that
// call succeed.
func (f *FakeChain) ScriptSubmit(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErrs = append(f.submitErrs, errs...)
}

// LandOnError makes scripted submit failures still land the transaction,
// as when a response is lost after the node accepted it.
func (f *FakeChain) LandOnError(land bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.landOnError = land
}

// OnSubmit installs a hook run at the start of every Submit. A non-nil
// return fails the call without landing.
func (f *FakeChain) OnSubmit(hook func(ctx context.Context, tx *transfer.SignedTransaction) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitHook = hook
}

// FailOnChain makes transfers to recipient land with an execution error.
func (f *FakeChain) FailOnChain(recipient solana.PublicKey, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOnChain[recipient] = reason
}

// LandAt sets the commitment landed transactions report.
func (f *FakeChain) LandAt(c chain.Commitment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.landedAt = c
}

// SetStatus overrides the status reported for txID.
func (f *FakeChain) SetStatus(txID string, status chain.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[txID] = status
}

// ScriptStatus queues errors for upcoming SignatureStatus calls.
func (f *FakeChain) ScriptStatus(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErrs = append(f.statusErrs, errs...)
}

// SetBlockHeight sets the current block height.
func (f *FakeChain) SetBlockHeight(h uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockHeight = h
}

// SetHealthError makes Health fail with err.
func (f *FakeChain) SetHealthError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthErr = err
}

// Submitted returns every transaction that landed, in landing order.
func (f *FakeChain) Submitted() []*transfer.SignedTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*transfer.SignedTransaction, len(f.submitted))
	copy(out, f.submitted)
	return out
}

// SubmitCalls returns the number of Submit calls, landed or not.
func (f *FakeChain) SubmitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

// FreshnessCalls returns the number of FetchFreshness calls.
func (f *FakeChain) FreshnessCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freshnessCalls
}

// StatusCalls returns the number of SignatureStatus calls.
func (f *FakeChain) StatusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

// FetchFreshness implements chain.Client.
func (f *FakeChain) FetchFreshness(ctx context.Context) (transfer.FreshnessToken, error) {
	if err := ctx.Err(); err != nil {
		return transfer.FreshnessToken{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.freshnessCalls++
	if len(f.freshnessErrs) > 0 {
		err := f.freshnessErrs[0]
		f.freshnessErrs = f.freshnessErrs[1:]
		if err != nil {
			return transfer.FreshnessToken{}, err
		}
	}
	if f.fixedFreshness != nil {
		return *f.fixedFreshness, nil
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(f.freshnessCalls))
	return transfer.FreshnessToken{
		Blockhash:            solana.Hash(sha256.Sum256(buf[:])),
		LastValidBlockHeight: f.blockHeight + f.validFor,
		FetchedAt:            time.Now(),
	}, nil
}

// Submit implements chain.Client.
func (f *FakeChain) Submit(ctx context.Context, tx *transfer.SignedTransaction) (string, error) {
	f.mu.Lock()
	hook := f.submitHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, tx); err != nil {
			f.mu.Lock()
			f.submitCalls++
			f.mu.Unlock()
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitCalls++

	var scripted error
	if len(f.submitErrs) > 0 {
		scripted = f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
	}
	if scripted != nil && !f.landOnError {
		return "", scripted
	}

	// Resubmitting landed bytes is accepted, like an RPC node answering
	// "already processed" that the client maps to success.
	if _, landed := f.statuses[tx.ID]; landed {
		if scripted != nil {
			return "", scripted
		}
		return tx.ID, nil
	}

	status := chain.Status{Found: true, Slot: f.blockHeight, Confirmation: f.landedAt}
	if reason, ok := f.failOnChain[tx.Recipient]; ok {
		status.Err = reason
	}
	f.statuses[tx.ID] = status
	f.submitted = append(f.submitted, tx)

	if scripted != nil {
		return "", scripted
	}
	return tx.ID, nil
}

// SignatureStatus implements chain.Client.
func (f *FakeChain) SignatureStatus(ctx context.Context, txID string) (chain.Status, error) {
	if err := ctx.Err(); err != nil {
		return chain.Status{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.statusCalls++
	if len(f.statusErrs) > 0 {
		err := f.statusErrs[0]
		f.statusErrs = f.statusErrs[1:]
		if err != nil {
			return chain.Status{}, err
		}
	}
	return f.statuses[txID], nil
}

// BlockHeight implements chain.Client.
func (f *FakeChain) BlockHeight(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockHeight, nil
}

// Health implements chain.Client.
func (f *FakeChain) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}
