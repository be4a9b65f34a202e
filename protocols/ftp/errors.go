package ftp

import (
	"errors"
	"fmt"

	"storagehx/storage"
)

const backend = "ftp"

// Reasons carried by the *storage.ConnectionError values of this package.
const (
	ReasonConnect      = "unable to connect to host"
	ReasonAuthenticate = "unable to login/authenticate"
	ReasonUTF8         = "unable to enable utf-8 mode"
	ReasonPassive      = "unable to make connection passive"
	ReasonSetOption    = "unable to set ftp option"
	ReasonStale        = "connection could not be validated"
)

var (
	ErrInvalidListResponse = errors.New("invalid ftp list response")

	errActiveMode = errors.New("active mode data connections are not supported")
)

// InvalidListResponseError aborts a listing: a line had too few fields to be
// parsed, so nothing after it can be trusted either.
type InvalidListResponseError struct {
	Line string
}

func (e *InvalidListResponseError) Error() string {
	return fmt.Sprintf("%s: metadata can't be parsed from item %q, not enough parts", ErrInvalidListResponse, e.Line)
}

func (e *InvalidListResponseError) Is(target error) bool {
	return target == ErrInvalidListResponse
}

func connectionError(o ConnectionOptions, reason string, err error) *storage.ConnectionError {
	if o.SSL && reason == ReasonConnect {
		reason += ", using ssl"
	}
	return &storage.ConnectionError{
		Backend: backend,
		Host:    o.Host,
		Port:    o.Port,
		Reason:  reason,
		Err:     err,
	}
}
