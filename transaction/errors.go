package transaction

import "github.com/ghettovoice/siptx/internal/errorutil"

// Error is a sentinel error of the transaction layer.
type Error = errorutil.Error

const (
	ErrBadParameter          Error = "bad parameter"
	ErrAlreadyExists         Error = "transaction already exists"
	ErrOutOfResources        Error = "out of resources"
	ErrIllegalAction         Error = "illegal action"
	ErrTransportFailure      Error = "transport failure"
	ErrUnknown               Error = "unknown error"
	ErrTransactionNotFound   Error = "transaction not found"
	ErrTransactionTerminated Error = "transaction terminated"
	ErrLayerClosed           Error = "transaction layer closed"
)

// NewBadParameterError wraps args with [ErrBadParameter].
func NewBadParameterError(args ...any) error {
	return errorutil.NewWrapperError(ErrBadParameter, args...) //errtrace:skip
}

// NewIllegalActionError wraps args with [ErrIllegalAction].
func NewIllegalActionError(args ...any) error {
	return errorutil.NewWrapperError(ErrIllegalAction, args...) //errtrace:skip
}

// NewTransportFailureError wraps args with [ErrTransportFailure].
func NewTransportFailureError(args ...any) error {
	return errorutil.NewWrapperError(ErrTransportFailure, args...) //errtrace:skip
}

// NewUnknownError wraps args with [ErrUnknown].
func NewUnknownError(args ...any) error {
	return errorutil.NewWrapperError(ErrUnknown, args...) //errtrace:skip
}
