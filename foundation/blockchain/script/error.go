package script

import (
	"errors"
	"fmt"
)

// ErrScriptFalse is returned when a script runs to completion but leaves an
// empty stack or a false value on top.
var ErrScriptFalse = errors.New("script evaluated to false")

// ErrorCode identifies a kind of script execution failure.
type ErrorCode int

// Set of script error codes.
const (
	ErrScriptTooBig ErrorCode = iota
	ErrMalformedPush
	ErrElementTooBig
	ErrTooManyOperations
	ErrStackOverflow
	ErrInvalidStackOperation
	ErrUnbalancedConditional
	ErrDisabledOpcode
	ErrReservedOpcode
	ErrEarlyReturn
	ErrVerify
	ErrNumberTooBig
	ErrInvalidPubKeyCount
	ErrInvalidSignatureCount
	ErrInvalidIndex
	ErrSigCheck
)

var errorCodeStrings = map[ErrorCode]string{
	ErrScriptTooBig:          "ErrScriptTooBig",
	ErrMalformedPush:         "ErrMalformedPush",
	ErrElementTooBig:         "ErrElementTooBig",
	ErrTooManyOperations:     "ErrTooManyOperations",
	ErrStackOverflow:         "ErrStackOverflow",
	ErrInvalidStackOperation: "ErrInvalidStackOperation",
	ErrUnbalancedConditional: "ErrUnbalancedConditional",
	ErrDisabledOpcode:        "ErrDisabledOpcode",
	ErrReservedOpcode:        "ErrReservedOpcode",
	ErrEarlyReturn:           "ErrEarlyReturn",
	ErrVerify:                "ErrVerify",
	ErrNumberTooBig:          "ErrNumberTooBig",
	ErrInvalidPubKeyCount:    "ErrInvalidPubKeyCount",
	ErrInvalidSignatureCount: "ErrInvalidSignatureCount",
	ErrInvalidIndex:          "ErrInvalidIndex",
	ErrSigCheck:              "ErrSigCheck",
}

// String returns the name of the error code.
func (c ErrorCode) String() string {
	if s := errorCodeStrings[c]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(c))
}

// Error is a failure during script parsing or execution.
type Error struct {
	Code ErrorCode
	Desc string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Desc, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Desc)
}

// Unwrap returns the cause reported by a signature checker, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

func scriptError(code ErrorCode, format string, args ...any) error {
	return &Error{Code: code, Desc: fmt.Sprintf(format, args...)}
}

// IsErrorCode reports whether err is a script Error with the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}
