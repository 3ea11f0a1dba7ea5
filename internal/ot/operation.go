// Package ot implements the text operations exchanged by editors and the
// operational transformation rules that let concurrent edits converge.
//
// Positions and lengths count Unicode code points.
package ot

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// Kind identifies an operation variant.
type Kind string

const (
	KindInsert  Kind = "insert"
	KindDelete  Kind = "delete"
	KindReplace Kind = "replace"
)

// Op is a single text edit. The set of implementations is closed: Insert,
// Delete and Replace.
type Op interface {
	Kind() Kind
	// Pos returns the code point offset the operation is anchored at.
	Pos() int
	sealed()
}

// Insert places Text before the code point at Position.
type Insert struct {
	Position int
	Text     string
}

// Delete removes Length code points starting at Position. A zero-length
// delete is the no-op produced when a concurrent delete already removed the
// whole range.
type Delete struct {
	Position int
	Length   int
}

// Replace swaps OldText for NewText. Position anchors the occurrence of
// OldText that is replaced.
type Replace struct {
	Position int
	OldText  string
	NewText  string
}

func (Insert) Kind() Kind  { return KindInsert }
func (Delete) Kind() Kind  { return KindDelete }
func (Replace) Kind() Kind { return KindReplace }

func (o Insert) Pos() int  { return o.Position }
func (o Delete) Pos() int  { return o.Position }
func (o Replace) Pos() int { return o.Position }

func (Insert) sealed()  {}
func (Delete) sealed()  {}
func (Replace) sealed() {}

// IsNoop reports whether applying op leaves any text unchanged.
func IsNoop(op Op) bool {
	switch o := op.(type) {
	case Insert:
		return o.Text == ""
	case Delete:
		return o.Length == 0
	case Replace:
		return o.OldText == o.NewText
	default:
		panic(fmt.Sprintf("ot: unknown operation %T", op))
	}
}

// Encoded is the JSON form of an operation. Optional fields are pointers so
// that a missing field can be told apart from an empty one.
type Encoded struct {
	Type      Kind       `json:"type"`
	Position  int        `json:"position"`
	Text      *string    `json:"text,omitempty"`
	Length    *int       `json:"length,omitempty"`
	OldText   *string    `json:"old_text,omitempty"`
	NewText   *string    `json:"new_text,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Encode converts op to its JSON form.
func Encode(op Op) Encoded {
	switch o := op.(type) {
	case Insert:
		return Encoded{Type: KindInsert, Position: o.Position, Text: &o.Text}
	case Delete:
		return Encoded{Type: KindDelete, Position: o.Position, Length: &o.Length}
	case Replace:
		return Encoded{Type: KindReplace, Position: o.Position, OldText: &o.OldText, NewText: &o.NewText}
	default:
		panic(fmt.Sprintf("ot: unknown operation %T", op))
	}
}

// Decode converts an encoded operation, checking that the fields its type
// requires are present.
func Decode(e Encoded) (Op, error) {
	switch e.Type {
	case KindInsert:
		if e.Text == nil {
			return nil, fmt.Errorf("%w: insert requires text", ErrInvalidOperation)
		}
		return Insert{Position: e.Position, Text: *e.Text}, nil
	case KindDelete:
		if e.Length == nil {
			return nil, fmt.Errorf("%w: delete requires length", ErrInvalidOperation)
		}
		return Delete{Position: e.Position, Length: *e.Length}, nil
	case KindReplace:
		if e.OldText == nil || e.NewText == nil {
			return nil, fmt.Errorf("%w: replace requires old_text and new_text", ErrInvalidOperation)
		}
		return Replace{Position: e.Position, OldText: *e.OldText, NewText: *e.NewText}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidOperation)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, e.Type)
	}
}

// Marshal encodes op as JSON.
func Marshal(op Op) ([]byte, error) {
	return json.Marshal(Encode(op))
}

// Unmarshal decodes a JSON operation.
func Unmarshal(data []byte) (Op, error) {
	var e Encoded
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	return Decode(e)
}

// Len returns the length of s in code points.
func Len(s string) int {
	return utf8.RuneCountInString(s)
}
