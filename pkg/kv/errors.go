package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind classifies why a remote operation failed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNetwork covers refused, reset and timed-out connections.
	KindNetwork
	// KindAuth covers rejected credentials and missing permissions.
	KindAuth
	// KindSerialization covers payloads the backend could not encode or decode.
	KindSerialization
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// RemoteError is the error every backend returns for a failed remote call.
type RemoteError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s failure: %v", e.Op, e.Kind, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrBackendUnavailable) hold for every RemoteError.
func (e *RemoteError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// Wrap classifies err and wraps it in a RemoteError. nil, ErrNotFound and
// caller cancellation pass through unchanged.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
		return err
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Op: op, Kind: Classify(err), Err: err}
}

// KindOf returns the kind of a RemoteError in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

var authMarkers = []string{
	"NOAUTH",
	"WRONGPASS",
	"invalid password",
	"invalid username-password",
	"NOPERM",
	"password authentication failed",
	"SQLSTATE 28",
}

var networkMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"timeout",
	"connection closed",
	"client is closed",
	"EOF",
}

// Classify inspects err and decides which failure kind it represents.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var unsupported *json.UnsupportedTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.As(err, &unsupported) {
		return KindSerialization
	}

	msg := err.Error()
	for _, m := range authMarkers {
		if strings.Contains(msg, m) {
			return KindAuth
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED, syscall.ETIMEDOUT:
			return KindNetwork
		}
	}
	for _, m := range networkMarkers {
		if strings.Contains(msg, m) {
			return KindNetwork
		}
	}

	return KindUnknown
}
