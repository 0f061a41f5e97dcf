package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/solrelay/transfer-relay/errkind"
)

// JSON-RPC error codes returned by Solana nodes.
const (
	rpcCodeInternal                = -32603
	rpcCodeInvalidParams           = -32602
	rpcCodeInvalidRequest          = -32600
	rpcCodeSendTxPreflightFailure  = -32002
	rpcCodeSigVerifyFailure        = -32003
	rpcCodeBlockNotAvailable       = -32004
	rpcCodeNodeUnhealthy           = -32005
	rpcCodeTxPrecompileVerifyFail  = -32006
	rpcCodeMinContextSlotNotReach  = -32016
	rpcCodeTooManyRequestsProvider = 429
)

// Classify tags err with the errkind taxonomy. Errors already carrying a kind
// are returned unchanged. Unknown transport failures are NetworkError: the
// request may or may not have reached the node.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var typed *errkind.Error
	if errors.As(err, &typed) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return errkind.Wrap(errkind.Cancelled, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return errkind.Wrap(errkind.Timeout, op, err)
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		if isAlreadyProcessedMessage(rpcErr.Message) {
			return alreadyProcessed(op, rpcErr.Message)
		}
		return errkind.Wrap(kindForRPCCode(rpcErr.Code), op, fmt.Errorf("rpc error %d: %s", rpcErr.Code, rpcErr.Message))
	}

	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		return errkind.Wrap(kindForHTTPStatus(httpErr.Code), op, fmt.Errorf("http status %d", httpErr.Code))
	}

	if IsAlreadyProcessed(err) {
		return alreadyProcessed(op, err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errkind.Wrap(errkind.Timeout, op, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return errkind.Wrap(errkind.NetworkError, op, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "status code: 429"),
		strings.Contains(msg, "status code: 503"):
		return errkind.Wrap(errkind.ServiceUnavailable, op, err)
	case strings.Contains(msg, "timeout"):
		return errkind.Wrap(errkind.Timeout, op, err)
	}

	return errkind.Wrap(errkind.NetworkError, op, err)
}

// IsAlreadyProcessed reports whether err says the transaction already landed.
func IsAlreadyProcessed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAlreadyProcessed) {
		return true
	}
	return isAlreadyProcessedMessage(err.Error())
}

func isAlreadyProcessedMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "already been processed") || strings.Contains(msg, "alreadyprocessed")
}

func alreadyProcessed(op, detail string) error {
	return errkind.Wrap(errkind.RejectedByChain, op, fmt.Errorf("%w: %s", ErrAlreadyProcessed, detail))
}

func kindForRPCCode(code int) errkind.Kind {
	switch code {
	case rpcCodeNodeUnhealthy,
		rpcCodeBlockNotAvailable,
		rpcCodeMinContextSlotNotReach,
		rpcCodeInternal,
		rpcCodeTooManyRequestsProvider:
		return errkind.ServiceUnavailable
	case rpcCodeSendTxPreflightFailure,
		rpcCodeSigVerifyFailure,
		rpcCodeTxPrecompileVerifyFail,
		rpcCodeInvalidParams,
		rpcCodeInvalidRequest:
		return errkind.RejectedByChain
	default:
		return errkind.RejectedByChain
	}
}

func kindForHTTPStatus(status int) errkind.Kind {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return errkind.Timeout
	case status == http.StatusTooManyRequests || status >= 500:
		return errkind.ServiceUnavailable
	case status >= 400:
		return errkind.RejectedByChain
	default:
		return errkind.NetworkError
	}
}
