// Package mailerr classifies the failures the sync engine distinguishes:
// transport, protocol, authentication, local I/O and cache transactions.
package mailerr

import (
	"errors"
	"fmt"
)

// Kind identifies the failure class of an Error.
type Kind int

const (
	// Connection is a TCP or TLS level failure.
	Connection Kind = iota + 1
	// Protocol is an IMAP or SMTP command failure.
	Protocol
	// Auth is a rejected login.
	Auth
	// IO is a local filesystem failure.
	IO
	// Database is a cache transaction failure.
	Database
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case Connection:
		return "connection"
	case Protocol:
		return "protocol"
	case Auth:
		return "auth"
	case IO:
		return "io"
	case Database:
		return "database"
	default:
		return "unknown"
	}
}

// Error carries a failure class, the operation that failed and the
// underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// E wraps err with a kind and the name of the failing operation.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or 0 when
// the chain carries no classified error.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return 0
}

// Is reports whether err's chain contains a classified error of the
// given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
