package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by where in the topic lifecycle it happened.
type Kind string

const (
	KindInternal   Kind = "internal"
	KindValidation Kind = "validation"
	KindGeneration Kind = "generation"
	KindPublish    Kind = "publish"
	KindStorage    Kind = "storage"
)

// Error represents a universal error type between the packages.
type Error struct {
	Kind    Kind
	Status  int
	Err     error // The error this wraps
	Details []Detail
}

type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s, details: %v", e.Kind, e.Err, e.Details)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type transport struct {
	Kind    Kind     `json:"kind"`
	Message string   `json:"message"`
	Details []Detail `json:"details"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}

	return json.Marshal(transport{
		Kind:    e.Kind,
		Message: msg,
		Details: e.Details,
	})
}

// E builds an [*Error] out of whatever it's given: a string or error becomes the
// wrapped error, a [Kind] classifies it, an int overrides the HTTP status and
// details are appended.
//
// Without an explicit status, one is derived from the kind.
func E(args ...any) *Error {
	ret := &Error{
		Kind: KindInternal,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case Kind:
			ret.Kind = arg
		case int:
			ret.Status = arg
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	if ret.Status == 0 {
		ret.Status = statusFor(ret.Kind)
	}

	return ret
}

func statusFor(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindGeneration, KindPublish:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// KindOf reports the kind of the first [*Error] in err's chain.
//
// Errors that were never classified are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// Is reports whether err is classified as kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
