package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEnvelope indicates bytes that do not decode as an envelope or its payload.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrUnsupportedKind indicates an envelope carrying an unknown message kind.
	ErrUnsupportedKind = errors.New("unsupported message kind")
)

// UnsupportedKindError names the unknown kind.
type UnsupportedKindError struct {
	TypeURL string
}

func (e *UnsupportedKindError) Error() string {
	if e == nil || e.TypeURL == "" {
		return ErrUnsupportedKind.Error()
	}
	return fmt.Sprintf("%s: %s", ErrUnsupportedKind.Error(), e.TypeURL)
}

func (e *UnsupportedKindError) Unwrap() error {
	return ErrUnsupportedKind
}

func malformed(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrMalformedEnvelope, what)
	}
	return fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, what, err)
}
