// Package errs provides types and support related to web api errors.
package errs

import (
	"errors"
	"net/http"

	"github.com/ardanlabs/btcnode/foundation/blockchain/database"
)

// Response is the form used for API responses from failures in the API.
// Rule carries the consensus rule a rejected block or transaction broke.
type Response struct {
	Error  string            `json:"error"`
	Rule   string            `json:"rule,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Trusted is used to pass an error during the request through the
// application with web specific context. Its message is safe to show to
// the client.
type Trusted struct {
	Err    error
	Status int
}

// NewTrusted wraps a provided error with an HTTP status code. This
// function should be used when handlers encounter expected errors.
func NewTrusted(err error, status int) error {
	return &Trusted{Err: err, Status: status}
}

// Error implements the error interface.
func (t *Trusted) Error() string {
	return t.Err.Error()
}

// Unwrap exposes the wrapped error to errors.Is and errors.As.
func (t *Trusted) Unwrap() error {
	return t.Err
}

// IsTrusted checks if an error of type Trusted exists.
func IsTrusted(err error) bool {
	var t *Trusted
	return errors.As(err, &t)
}

// GetTrusted returns a copy of the Trusted pointer.
func GetTrusted(err error) *Trusted {
	var t *Trusted
	if !errors.As(err, &t) {
		return nil
	}
	return t
}

// =============================================================================

// Rejection builds the response for a block or transaction that broke a
// consensus rule. The second return is false when err is not such a
// rejection.
func Rejection(err error) (Response, int, bool) {
	var ve *database.VerificationError
	if !errors.As(err, &ve) || errors.Is(err, database.ErrInterrupted) {
		return Response{}, 0, false
	}

	resp := Response{
		Error: ve.Error(),
		Rule:  ve.Rule.Error(),
	}

	return resp, http.StatusUnprocessableEntity, true
}
