package tbucket

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by ContractError. Callers can test for these with
// errors.Is.
var (
	// ErrInvalidRate is returned when rate is not positive.
	ErrInvalidRate = errors.New("tbucket: rate must be positive")

	// ErrInvalidPeriod is returned when period is not positive.
	ErrInvalidPeriod = errors.New("tbucket: period must be positive")

	// ErrInvalidN is returned when a consume/estimate count is not positive,
	// or (for time-series buckets) exceeds rate.
	ErrInvalidN = errors.New("tbucket: n must satisfy 0 < n <= rate")

	// ErrInvalidSetAmount is returned when Set's target token count falls
	// outside [0, rate].
	ErrInvalidSetAmount = errors.New("tbucket: set amount must satisfy 0 <= n <= rate")

	// ErrNonFiniteTimestamp is returned when Set is given a NaN or
	// infinite timestamp.
	ErrNonFiniteTimestamp = errors.New("tbucket: timestamp must be finite")

	// ErrWindowViolation is returned when a mutate/fill/prune callback
	// returns a timestamp outside [queryTime-period, queryTime].
	ErrWindowViolation = errors.New("tbucket: callback returned a timestamp outside the window")

	// ErrWrongLength is returned when a fill/prune callback returns a
	// slice of the wrong length.
	ErrWrongLength = errors.New("tbucket: callback returned the wrong number of timestamps")

	// ErrNotASubset is returned when a prune callback's result is not a
	// sub-multiset of the observed window.
	ErrNotASubset = errors.New("tbucket: prune callback did not return a subset of the window")
)

// ContractError reports a caller precondition violation: invalid
// arguments, or a reconciliation callback (fill/prune/mutator) that broke
// its contract. It always wraps one of the sentinel Err* values above.
type ContractError struct {
	Err error
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("tbucket: contract violation: %v", e.Err)
}

func (e *ContractError) Unwrap() error { return e.Err }

func newContractError(err error) *ContractError {
	return &ContractError{Err: err}
}

// StoreError reports a failure from the underlying store (busy timeout
// exceeded, disk error, schema mismatch). It wraps the backend error
// unchanged.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("tbucket: store error: %v", e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func newStoreError(err error) *StoreError {
	if err == nil {
		return nil
	}
	return &StoreError{Err: err}
}
