package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xedev/Flip-it/internal/chain"
	"github.com/0xedev/Flip-it/internal/wallet"
)

var (
	ErrNotConnected        = wallet.ErrNotConnected
	ErrWalletRejected      = wallet.ErrRejected
	ErrNonPositiveAmount   = errors.New("bet amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidIntent       = errors.New("invalid bet")

	ErrBetInFlight      = errors.New("a bet is already in flight")
	ErrNoAttempt        = errors.New("no bet in flight")
	ErrApprovalRequired = errors.New("token approval not confirmed")
	ErrAlreadySubmitted = errors.New("bet transaction already sent")

	ErrApprovalFailed      = errors.New("token approval failed")
	ErrTransactionFailed   = errors.New("transaction failed")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrNoCorrelation       = errors.New("no bet id in receipt")

	// ErrCorrelationTimeout means the bet is still pending on-chain as far as
	// we know; the result should be checked again later.
	ErrCorrelationTimeout = errors.New("bet still pending, check back later")

	ErrCancelNotAllowed = errors.New("bet cannot be canceled by this account yet")
	ErrClaimNotAllowed  = errors.New("bet cannot be claimed by this account yet")
)

// ValidationError is a pre-flight rejection. No transaction was sent.
type ValidationError struct {
	Reason error
}

func (e *ValidationError) Error() string { return "invalid bet: " + e.Reason.Error() }
func (e *ValidationError) Unwrap() error { return e.Reason }

func invalid(reason error) error {
	return &ValidationError{Reason: reason}
}

// TxError describes a failed transaction step.
type TxError struct {
	Op     string
	Hash   common.Hash
	Reason string
	Err    error
}

func (e *TxError) Error() string {
	msg := e.Op + ": " + e.Err.Error()
	if e.Hash != (common.Hash{}) {
		msg += fmt.Sprintf(" (tx %s)", e.Hash.Hex())
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TxError) Unwrap() error { return e.Err }

// Kind groups errors by how the user recovers from them.
type Kind int

const (
	KindNone Kind = iota
	KindValidation
	KindWalletRejection
	KindApproval
	KindTransaction
	KindCorrelationTimeout
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindWalletRejection:
		return "wallet_rejection"
	case KindApproval:
		return "approval_failure"
	case KindTransaction:
		return "transaction_failure"
	case KindCorrelationTimeout:
		return "correlation_timeout"
	case KindCanceled:
		return "canceled"
	}
	return "none"
}

// KindOf classifies err.
func KindOf(err error) Kind {
	var verr *ValidationError
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &verr), errors.Is(err, ErrBetInFlight), errors.Is(err, ErrAlreadySubmitted),
		errors.Is(err, chain.ErrInvalidAmount):
		return KindValidation
	case errors.Is(err, ErrWalletRejected):
		return KindWalletRejection
	case errors.Is(err, ErrApprovalFailed):
		return KindApproval
	case errors.Is(err, ErrCorrelationTimeout):
		return KindCorrelationTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindTransaction
}
