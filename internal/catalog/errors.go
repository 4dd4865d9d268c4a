package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound signals that the requested collection or item does not exist.
var ErrNotFound = errors.New("not found")

// FetchErrorKind classifies PageFetcher failures.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchTimeout    FetchErrorKind = "timeout"
	FetchHTTPStatus FetchErrorKind = "http_status"
	FetchNetwork    FetchErrorKind = "network"
)

// FetchError is returned by PageFetcher implementations.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchHTTPStatus:
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
		}
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a fetch failure worth retrying later.
func IsTransient(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	switch fe.Kind {
	case FetchTimeout, FetchNetwork:
		return true
	case FetchHTTPStatus:
		return fe.StatusCode == http.StatusTooManyRequests || fe.StatusCode >= 500
	default:
		return false
	}
}

// ExtractError reports a page or entry whose structure did not match the rules.
type ExtractError struct {
	URL    string
	Field  string
	Reason string
}

func (e *ExtractError) Error() string {
	switch {
	case e.Field != "" && e.URL != "":
		return fmt.Sprintf("extract %s: field %q: %s", e.URL, e.Field, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("extract: field %q: %s", e.Field, e.Reason)
	default:
		return fmt.Sprintf("extract %s: %s", e.URL, e.Reason)
	}
}

// IsExtractError reports whether err is a page-structure mismatch.
func IsExtractError(err error) bool {
	var ee *ExtractError
	return errors.As(err, &ee)
}

// StoreError wraps any failure of the relational store. It is fatal to the
// current invocation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// WrapStore tags err as a StoreError for op. nil and ErrNotFound pass through.
func WrapStore(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err must abort the invocation. Context
// cancellation is treated the same way.
func IsStoreError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StoreError
	return errors.As(err, &se)
}
