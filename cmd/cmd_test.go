package cmd

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/solrelay/transfer-relay/journal"
	"github.com/solrelay/transfer-relay/relay"
	"github.com/solrelay/transfer-relay/testutil"
)

// nodeStub answers the JSON-RPC methods the relay uses. Submitted
// transactions land as confirmed unless failSubmit is set.
type nodeStub struct {
	server *httptest.Server

	mu         sync.Mutex
	failSubmit bool
	landed     map[string]bool
	submits    int
}

func newNodeStub(t *testing.T) *nodeStub {
	n := &nodeStub{landed: make(map[string]bool)}
	n.server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.server.Close)
	return n
}

func (n *nodeStub) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	var result any
	switch req.Method {
	case "getLatestBlockhash":
		var h solana.Hash
		copy(h[:], bytes.Repeat([]byte{9}, len(h)))
		result = map[string]any{
			"context": map[string]any{"slot": 10},
			"value":   map[string]any{"blockhash": h.String(), "lastValidBlockHeight": 1150},
		}
	case "sendTransaction":
		n.submits++
		if n.failSubmit {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var encoded string
		_ = json.Unmarshal(req.Params[0], &encoded)
		raw, _ := base64.StdEncoding.DecodeString(encoded)
		sig := solana.SignatureFromBytes(raw[1:65]).String()
		n.landed[sig] = true
		result = sig
	case "getSignatureStatuses":
		var sigs []string
		_ = json.Unmarshal(req.Params[0], &sigs)
		var values []any
		for _, sig := range sigs {
			if n.landed[sig] {
				values = append(values, map[string]any{
					"slot": 20, "confirmations": 1, "err": nil, "confirmationStatus": "confirmed",
				})
			} else {
				values = append(values, nil)
			}
		}
		result = map[string]any{"context": map[string]any{"slot": 20}, "value": values}
	case "getBlockHeight":
		result = 1000
	case "getHealth":
		result = "ok"
	default:
		http.Error(w, "method not stubbed", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func (n *nodeStub) land(sig string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.landed[sig] = true
}

func (n *nodeStub) submitCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.submits
}

// execute runs the CLI with args and returns stdout and the exit code.
func execute(t *testing.T, stdin string, args ...string) (string, int) {
	t.Helper()
	root := NewRootCmd(BuildInfo{Version: "test", Details: "Version: test"})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.String(), ExitCode(err)
}

func TestExitCode(t *testing.T) {
	require.Equal(t, ExitOK, ExitCode(nil))
	require.Equal(t, ExitRuntime, ExitCode(errors.New("boom")))
	require.Equal(t, ExitUsage, ExitCode(usageError(errors.New("bad flag"))))
	require.Equal(t, ExitAmbiguous, ExitCode(fmt.Errorf("wrapped: %w", &ExitError{Code: ExitAmbiguous})))

	require.NoError(t, exitForSummary(relay.Summary{Total: 2, Confirmed: 2}))
	require.Equal(t, ExitRejected, ExitCode(exitForSummary(relay.Summary{Total: 2, Confirmed: 1, Rejected: 1})))
	require.Equal(t, ExitAmbiguous, ExitCode(exitForSummary(relay.Summary{Total: 2, Rejected: 1, Ambiguous: 1})))
}

func TestSend_Confirmed(t *testing.T) {
	node := newNodeStub(t)
	out, code := execute(t, "", "send",
		testutil.NewKeyBuilder(1).Encoded(), testutil.NewKeyBuilder(2).Address().String(), "1500",
		"--endpoint", node.server.URL)

	require.Equal(t, ExitOK, code)
	require.True(t, strings.HasPrefix(out, "Confirmed "), out)
	require.Equal(t, 1, node.submitCount())
}

func TestSend_SenderFromStdin(t *testing.T) {
	node := newNodeStub(t)
	sender := testutil.NewKeyBuilder(1).Encoded()
	out, code := execute(t, "# sender\n"+sender+"\n", "send", "-",
		testutil.NewKeyBuilder(2).Address().String(), "10",
		"--endpoint", node.server.URL, "--json")

	require.Equal(t, ExitOK, code)
	var outcome relay.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	require.Equal(t, relay.StateConfirmed, outcome.State)
	require.Equal(t, testutil.NewKeyBuilder(1).Build().Fingerprint(), outcome.SenderFingerprint)
	require.NotContains(t, out, sender)
}

func TestSend_Rejected(t *testing.T) {
	node := newNodeStub(t)
	secret := testutil.NewKeyBuilder(1).Encoded()
	truncated := secret[:len(secret)-4]

	out, code := execute(t, "", "send", truncated, testutil.NewKeyBuilder(2).Address().String(), "10",
		"--endpoint", node.server.URL)
	require.Equal(t, ExitRejected, code)
	require.Contains(t, out, "InvalidKeyFormat")
	require.NotContains(t, out, truncated)

	out, code = execute(t, "", "send", secret, testutil.NewKeyBuilder(2).Address().String(), "10",
		"--endpoint", node.server.URL, "--amount-ceiling", "5")
	require.Equal(t, ExitRejected, code)
	require.Contains(t, out, "InvalidAmount")
	require.Zero(t, node.submitCount())
}

func TestSend_AmbiguousIsJournaled(t *testing.T) {
	node := newNodeStub(t)
	node.failSubmit = true
	journalPath := filepath.Join(t.TempDir(), "journal.jsonl")

	out, code := execute(t, "", "send",
		testutil.NewKeyBuilder(1).Encoded(), testutil.NewKeyBuilder(2).Address().String(), "10",
		"--endpoint", node.server.URL, "--retry-budget", "0", "--journal-file", journalPath)
	require.Equal(t, ExitAmbiguous, code)
	require.True(t, strings.HasPrefix(out, "Ambiguous "), out)

	records, err := journal.ReadFile(journalPath)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, journal.OutcomeAmbiguous, records[0].OutcomeKind)
	require.Equal(t, uint64(1150), records[0].LastValidBlockHeight)
	require.NotEmpty(t, records[0].TransactionID)

	// The transaction landed after all; reconcile resolves it.
	node.land(records[0].TransactionID)
	out, code = execute(t, "", "reconcile", "--from-file",
		"--endpoint", node.server.URL, "--journal-file", journalPath)
	require.Equal(t, ExitOK, code)
	require.Equal(t, records[0].TransactionID+" "+journal.ResolvedConfirmed+"\n", out)

	records, err = journal.ReadFile(journalPath)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Empty(t, journal.Unresolved(records))
}

func TestSend_UsageErrors(t *testing.T) {
	node := newNodeStub(t)
	recipient := testutil.NewKeyBuilder(2).Address().String()

	_, code := execute(t, "", "send", testutil.NewKeyBuilder(1).Encoded(), recipient, "ten", "--endpoint", node.server.URL)
	require.Equal(t, ExitUsage, code)

	_, code = execute(t, "", "send", recipient, "10", "--endpoint", node.server.URL)
	require.Equal(t, ExitUsage, code)

	_, code = execute(t, "", "send", testutil.NewKeyBuilder(1).Encoded(), recipient, "10")
	require.Equal(t, ExitUsage, code, "missing endpoint")

	_, code = execute(t, "", "send", "--no-such-flag")
	require.Equal(t, ExitUsage, code)

	_, code = execute(t, "", "send", "-", recipient, "10", "--endpoint", node.server.URL)
	require.Equal(t, ExitUsage, code, "empty stdin")
	require.Zero(t, node.submitCount())
}

func TestBatch_FromFile(t *testing.T) {
	node := newNodeStub(t)
	dir := t.TempDir()
	sender := testutil.NewKeyBuilder(1).Encoded()
	recipient := testutil.NewKeyBuilder(2).Address().String()

	keyFile := filepath.Join(dir, "sender.yaml")
	require.NoError(t, os.WriteFile(keyFile, []byte("sender_key: "+sender+"\n"), 0o600))

	list := filepath.Join(dir, "payouts.txt")
	require.NoError(t, os.WriteFile(list, []byte(fmt.Sprintf(
		"%s %s 100\n%s\nnot-a-key %s 5\n", sender, recipient, recipient, recipient)), 0o600))

	resultPath := filepath.Join(dir, "result.json")
	_, code := execute(t, "", "batch", list,
		"--endpoint", node.server.URL, "--sender-key-file", keyFile, "--default-amount", "7", "-o", resultPath)
	require.Equal(t, ExitRejected, code)

	data, err := os.ReadFile(resultPath)
	require.NoError(t, err)
	require.NotContains(t, string(data), sender)

	var result relay.Result
	require.NoError(t, json.Unmarshal(data, &result))
	require.Len(t, result.Outcomes, 3)
	require.Equal(t, relay.StateConfirmed, result.Outcomes[0].State)
	require.Equal(t, relay.StateConfirmed, result.Outcomes[1].State)
	require.Equal(t, int64(7), result.Outcomes[1].AmountUnits)
	require.Equal(t, relay.StateRejected, result.Outcomes[2].State)
	require.Equal(t, 2, node.submitCount())
}

func TestBatch_Stdin(t *testing.T) {
	node := newNodeStub(t)
	line := fmt.Sprintf("%s %s 100\n", testutil.NewKeyBuilder(1).Encoded(), testutil.NewKeyBuilder(2).Address().String())

	out, code := execute(t, line, "batch", "-", "--endpoint", node.server.URL)
	require.Equal(t, ExitOK, code)

	var result relay.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Equal(t, 1, result.Summary.Confirmed)
}

func TestBatch_InvalidListIsUsageError(t *testing.T) {
	node := newNodeStub(t)
	secret := testutil.NewKeyBuilder(1).Encoded()
	root := NewRootCmd(BuildInfo{})
	root.SetOut(io.Discard)
	root.SetIn(strings.NewReader(secret + " a b c\n"))
	root.SetArgs([]string{"batch", "--endpoint", node.server.URL, "--log-level", "error"})

	err := root.Execute()
	require.Equal(t, ExitUsage, ExitCode(err))
	require.NotContains(t, err.Error(), secret)
}

func TestReconcile_TransactionIDs(t *testing.T) {
	node := newNodeStub(t)
	var landed, unknown solana.Signature
	landed[0], unknown[0] = 1, 2
	node.land(landed.String())

	out, code := execute(t, "", "reconcile", landed.String(), unknown.String(), "--endpoint", node.server.URL)
	require.Equal(t, ExitAmbiguous, code)
	require.Equal(t, landed.String()+" "+journal.ResolvedConfirmed+"\n"+unknown.String()+" "+journal.Pending+"\n", out)
}

func TestReconcile_NeedsSource(t *testing.T) {
	node := newNodeStub(t)
	_, code := execute(t, "", "reconcile", "--endpoint", node.server.URL)
	require.Equal(t, ExitUsage, code)

	_, code = execute(t, "", "reconcile", "--from-file", "--endpoint", node.server.URL)
	require.Equal(t, ExitUsage, code)
}

func TestLoadConfig_FileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chain:
  rpc_url: http://file.example:8899
  retry_budget: 5
relay:
  parallelism: 2
`), 0o600))

	root := NewRootCmd(BuildInfo{})
	root.SetArgs([]string{"version", "--config", path, "--retry-budget", "1", "--log-format", "text"})
	require.NoError(t, root.Execute())

	cmd, _, err := root.Find([]string{"version"})
	require.NoError(t, err)
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	require.Equal(t, "http://file.example:8899", cfg.Chain.RPCURL)
	require.Equal(t, 1, cfg.Chain.RetryBudget)
	require.Equal(t, 2, cfg.Relay.Parallelism)
	require.Equal(t, "text", cfg.Logging.Format)
}

func TestVersion(t *testing.T) {
	out, code := execute(t, "", "version")
	require.Equal(t, ExitOK, code)
	require.Equal(t, "Version: test\n", out)
}
