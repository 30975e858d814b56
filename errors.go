package reldb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andreyvit/reldb/engine"
)

// Code classifies every error returned by reldb.
type Code int

const (
	// Unknown covers engine failures, misuse and failed callbacks.
	Unknown Code = 1 + iota
	// NotFound means a required database, table, sequence, record or
	// transaction does not exist.
	NotFound
	// Exists means something that was to be created already exists, or a
	// unique key would be duplicated.
	Exists
	// ForeignKey means a foreign key constraint would be violated.
	ForeignKey
)

func (c Code) String() string {
	switch c {
	case 0:
		return "ok"
	case Unknown:
		return "unknown"
	case NotFound:
		return "not_found"
	case Exists:
		return "exists"
	case ForeignKey:
		return "foreign_key"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// Error lets a Code be used as a sentinel: errors.Is(err, reldb.ErrNotFound).
func (c Code) Error() string {
	return "reldb: " + strings.ReplaceAll(c.String(), "_", " ")
}

var (
	ErrUnknown    error = Unknown
	ErrNotFound   error = NotFound
	ErrExists     error = Exists
	ErrForeignKey error = ForeignKey
)

type Error struct {
	Code  Code
	Op    string
	Table string
	Index string
	Key   []byte
	Msg   string
	Err   error
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.Code
}

func (e *Error) Error() string {
	var buf strings.Builder
	buf.WriteString("reldb: ")
	if e.Op != "" {
		buf.WriteString(e.Op)
		buf.WriteByte(' ')
	}
	if e.Table != "" {
		buf.WriteString(e.Table)
		if e.Index != "" {
			buf.WriteByte('.')
			buf.WriteString(e.Index)
		}
		if e.Key != nil {
			buf.WriteByte('/')
			buf.WriteString(hexstr(e.Key))
		}
		buf.WriteString(": ")
	}
	buf.WriteString(strings.ReplaceAll(e.Code.String(), "_", " "))
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// CodeOf returns the Code of err: 0 for nil, Unknown for errors that did not
// originate in reldb.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Unknown
}

func errf(code Code, op string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func tableErrf(code Code, op string, tbl *Table, idx *Index, key []byte, err error, format string, args ...any) *Error {
	e := &Error{Code: code, Op: op, Key: key, Err: err}
	if tbl != nil {
		e.Table = tbl.name
	}
	if idx != nil {
		e.Index = idx.name
	}
	if format != "" {
		e.Msg = fmt.Sprintf(format, args...)
	}
	return e
}

// engineCode maps an engine error to the matching Code.
func engineCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, engine.ErrBucketNotFound):
		return NotFound
	case errors.Is(err, engine.ErrExists):
		return Exists
	default:
		return Unknown
	}
}

// asError passes *Error values through and wraps anything else as Unknown.
func asError(op string, tbl *Table, idx *Index, key []byte, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return tableErrf(Unknown, op, tbl, idx, key, err, "")
}
