package entity

import (
	perrors "github.com/jmgilman/go/errors"
)

var (
	ErrNotFound            = perrors.New(perrors.CodeNotFound, "asset not found")
	ErrAlreadyExists       = perrors.New(perrors.CodeAlreadyExists, "asset already exists")
	ErrUnknownAsset        = perrors.New(perrors.CodeNotFound, "unknown asset")
	ErrInvalidInput        = perrors.New(perrors.CodeInvalidInput, "invalid input")
	ErrProviderUnavailable = perrors.New(perrors.CodeUnavailable, "metadata provider unavailable")
	ErrStoreConflict       = perrors.WithClassification(perrors.New(perrors.CodeConflict, "record store conflict"), perrors.ClassificationRetryable)
	ErrRefreshInProgress   = perrors.New(perrors.CodeConflict, "refresh already in progress")
	ErrPartialBatchFailure = perrors.New(perrors.CodeExecutionFailed, "refresh batch partially failed")
	ErrRefreshBatchFailed  = perrors.New(perrors.CodeUnavailable, "refresh batch failed")
)

// WrapSymbol wraps a sentinel with the symbol it concerns, keeping errors.Is
// and the sentinel classification intact.
func WrapSymbol(sentinel perrors.PlatformError, symbol string, message string) error {
	return perrors.WrapWithContext(sentinel, sentinel.Code(), message, map[string]interface{}{
		"symbol": symbol,
	})
}
