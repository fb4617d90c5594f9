package backend

import (
	"errors"
	"fmt"
)

//Kind classifies why a backend call failed
type Kind int

const (
	//KindNetwork means the request never produced a response (dial, timeout, cancellation)
	KindNetwork Kind = iota
	//KindApplication means the backend answered with a non 2xx status
	KindApplication
	//KindSchema means the backend answered 2xx but the body did not match what we expect
	KindSchema
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindApplication:
		return "application"
	case KindSchema:
		return "schema"
	}
	return "unknown"
}

//NetworkFailureMessage is shown to users when the backend could not be reached
const NetworkFailureMessage = "Something went wrong on the server or the network."

//Error is returned by every Client method that fails
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindApplication:
		if e.Message != "" {
			return fmt.Sprintf("backend responded %d: %s", e.Status, e.Message)
		}
		return fmt.Sprintf("backend responded %d", e.Status)
	case KindSchema:
		return fmt.Sprintf("unexpected backend response: %s", e.Err)
	}
	return fmt.Sprintf("backend unreachable: %s", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func networkError(err error) error {
	return &Error{Kind: KindNetwork, Err: err}
}

func schemaError(err error) error {
	return &Error{Kind: KindSchema, Err: err}
}

//IsKind reports whether err is a backend error of the given kind
func IsKind(err error, kind Kind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == kind
}

//UserMessage turns an error from this package into a text fit for an alert.
//Application failures carry the backend's own message, or fallback when it sent none.
func UserMessage(err error, fallback string) string {
	var be *Error
	if !errors.As(err, &be) {
		return fallback
	}

	switch be.Kind {
	case KindNetwork:
		return NetworkFailureMessage
	case KindApplication:
		if be.Message != "" {
			return be.Message
		}
	}

	return fallback
}
