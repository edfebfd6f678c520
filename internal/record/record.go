// Package record defines the common streaming-parser contract shared by the
// LDIF and native parsers (§4.1 of SPEC_FULL.md), plus the parse-error type
// both parsers report through.
package record

import (
	"fmt"

	"github.com/ldapvi/ldapvi/internal/model"
)

// Kind classifies a record's key.
type Kind int

const (
	// KindNumbered is a clean-file numbered entry; Key.Label holds the
	// decimal string carried as the record's key.
	KindNumbered Kind = iota
	KindAdd
	KindDelete
	KindModify
	KindRename
	KindReplace
)

// Key identifies one record as returned by ReadEntry/PeekEntry/SkipEntry.
type Key struct {
	Kind  Kind
	Label string // numeric text for KindNumbered, "" otherwise
}

func (k Key) String() string {
	if k.Kind == KindNumbered {
		return k.Label
	}
	switch k.Kind {
	case KindAdd:
		return "add"
	case KindDelete:
		return "delete"
	case KindModify:
		return "modify"
	case KindRename:
		return "rename"
	case KindReplace:
		return "replace"
	default:
		return "?"
	}
}

// ParseError is returned by any parser operation on malformed input; Pos is
// the byte offset the parser was reading when it detected the problem
// (§4.1.3), used by the action loop to place the editor's cursor.
type ParseError struct {
	Pos     int64
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at byte %d: %s", e.Pos, e.Message)
}

// NewParseError builds a ParseError with a formatted message.
func NewParseError(pos int64, format string, args ...interface{}) *ParseError {
	return &ParseError{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// ErrEnd is returned by ReadEntry/PeekEntry/SkipEntry once the stream is
// exhausted.
var ErrEnd = fmt.Errorf("end of stream")

// Parser is the contract both the LDIF and the native parser implement over
// a seekable byte source (§4.1).
type Parser interface {
	// ReadEntry reads the record at offset (current position if nil),
	// returning its key, the parsed Entry, and the byte position the record
	// started at.
	ReadEntry(offset *int64) (Key, *model.Entry, int64, error)

	// PeekEntry reports a record's key and start position without parsing
	// its body, and leaves the stream positioned at the start of the record
	// so the next ReadEntry/SkipEntry re-reads it from there.
	PeekEntry(offset *int64) (Key, int64, error)

	// SkipEntry advances past one record without building an Entry.
	SkipEntry(offset *int64) (Key, error)

	ReadRename(offset *int64) (*model.RenameRecord, error)
	ReadDelete(offset *int64) (string, error)
	ReadModify(offset *int64) (*model.ModifyRecord, error)

	Tell() int64
	Seek(pos int64) error
	ReadRaw(buf []byte) (int, error)
}
