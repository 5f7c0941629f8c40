package deployer

import (
	"errors"
	"io"
	"net"
	"strings"
)

var (
	// ErrChainIDMismatch is returned when the RPC endpoint serves a different
	// chain than the configured network.
	ErrChainIDMismatch = errors.New("deployer: RPC chain ID does not match network")
	// ErrDeploymentReverted is returned when a deployment receipt has failed status.
	ErrDeploymentReverted = errors.New("deployer: contract deployment reverted")
	// ErrReceiptTimeout is returned when no receipt arrives within the timeout.
	ErrReceiptTimeout = errors.New("deployer: timed out waiting for receipt")
	// ErrUnresolvedArgument is returned when a future argument has no address yet.
	ErrUnresolvedArgument = errors.New("deployer: argument references a future without an address")
)

// RetryableError marks a send error that may succeed when retried.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a RetryableError.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// rpcError matches JSON-RPC errors carrying a code.
type rpcError interface {
	ErrorCode() int
}

// Node messages that share the -32000 server error code but will not change
// on retry.
var permanentMessages = []string{
	"insufficient funds",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"max fee per gas less than block base fee",
	"invalid sender",
}

// classifySendError wraps transient transport and server errors in
// RetryableError. Server errors are the JSON-RPC range -32099..-32000.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, m := range permanentMessages {
		if strings.Contains(msg, m) {
			return err
		}
	}

	var rpcErr rpcError
	if errors.As(err, &rpcErr) {
		if code := rpcErr.ErrorCode(); code <= -32000 && code >= -32099 {
			return &RetryableError{Err: err}
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &RetryableError{Err: err}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &RetryableError{Err: err}
	}
	return err
}

func isNonceTooLow(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

// isAlreadyKnown reports whether the node already has the transaction in
// its pool, which happens when a previous attempt reached it.
func isAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}
