package reldb

import (
	"encoding/hex"
	"fmt"
	"runtime/debug"
	"unicode/utf8"
)

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

// safelyCall runs a user-supplied strategy, turning a panic into an error.
func safelyCall[T any](fn func() (T, bool, error)) (v T, ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn()
}

// hexstr formats a key for messages: printable keys verbatim, others in hex.
func hexstr(b []byte) string {
	if utf8.Valid(b) && isPrintable(b) {
		return string(b)
	}
	return hex.EncodeToString(b)
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c == 0x7F {
			return false
		}
	}
	return true
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}
