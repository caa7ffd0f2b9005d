// Package apperr holds the error kinds shared by sources, the sync
// engine, the download queue and the HTTP handlers.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid download state transition")
	ErrSyncInProgress    = errors.New("library sync already running")
	ErrQueueRunning      = errors.New("download queue already running")
	ErrUnknownSource     = errors.New("unknown source")
	ErrInvalidInput      = errors.New("invalid input")
)

// NetworkError is a transport failure. It is transient and may be retried.
type NetworkError struct {
	Op     string
	URL    string
	Status int // 0 when no response was received
	Err    error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s %s: status %d", e.Op, e.URL, e.Status)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ChallengeError means the site answered with an anti-bot interstitial.
// Callers must not retry it automatically.
type ChallengeError struct {
	URL    string
	Status int
	Marker string
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("anti-bot challenge at %s (status %d, %s)", e.URL, e.Status, e.Marker)
}

// ParseError means the markup no longer has a structure the adapter
// depends on.
type ParseError struct {
	Source string
	What   string
	URL    string
}

func (e *ParseError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: parse %s", e.Source, e.What)
	}
	return fmt.Sprintf("%s: parse %s at %s", e.Source, e.What, e.URL)
}

// RepositoryError wraps a local persistence failure.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string { return fmt.Sprintf("repository %s: %v", e.Op, e.Err) }

func (e *RepositoryError) Unwrap() error { return e.Err }

// Repo wraps err as a RepositoryError, passing nil through.
func Repo(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RepositoryError{Op: op, Err: err}
}

type Kind string

const (
	KindNone       Kind = ""
	KindNetwork    Kind = "network"
	KindChallenge  Kind = "challenge"
	KindParse      Kind = "parse"
	KindRepository Kind = "repository"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInvalid    Kind = "invalid"
	KindCanceled   Kind = "canceled"
	KindUnknown    Kind = "unknown"
)

// KindOf classifies err. A challenge wrapped inside a network error
// still reads as a challenge, and a transport timeout reads as network.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		ce *ChallengeError
		ne *NetworkError
		pe *ParseError
		re *RepositoryError
	)
	switch {
	case errors.As(err, &ce):
		return KindChallenge
	case errors.As(err, &pe):
		return KindParse
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &ne):
		return KindNetwork
	case errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSyncInProgress), errors.Is(err, ErrQueueRunning):
		return KindConflict
	case errors.Is(err, ErrUnknownSource), errors.Is(err, ErrInvalidInput):
		return KindInvalid
	case errors.As(err, &re):
		return KindRepository
	}
	return KindUnknown
}

func IsChallenge(err error) bool {
	var ce *ChallengeError
	return errors.As(err, &ce)
}

// Retryable reports whether an automatic retry is allowed. Only network
// errors qualify, and never a 404.
func Retryable(err error) bool {
	if KindOf(err) != KindNetwork {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) && (ne.Status == http.StatusNotFound || ne.Status == http.StatusGone) {
		return false
	}
	return true
}

// HTTPStatus maps err onto a response code for the API handlers.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNone:
		return http.StatusOK
	case KindChallenge:
		return http.StatusServiceUnavailable
	case KindNetwork, KindParse:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalid:
		return http.StatusBadRequest
	case KindCanceled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}
