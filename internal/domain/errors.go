package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrFeedDisconnected      = errors.New("venue feed disconnected")
	ErrStaleQuote            = errors.New("quote older than freshness threshold")
	ErrInsufficientLiquidity = errors.New("insufficient book depth")
	ErrRiskLimitExceeded     = errors.New("risk limit exceeded")
	ErrExecutionTimeout      = errors.New("execution exceeded time budget")
	ErrPartialFill           = errors.New("one leg filled, the other failed")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrDuplicateExecution    = errors.New("execution already in flight for opportunity")
	ErrPoolClosed            = errors.New("connection pool closed")
	ErrVenueUnknown          = errors.New("venue not registered")
)
