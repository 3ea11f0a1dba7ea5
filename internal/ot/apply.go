package ot

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Apply returns text with op applied. A replace prefers the occurrence of
// its old text anchored at its position and falls back to the first
// occurrence anywhere in the text.
func Apply(op Op, text string) (string, error) {
	runes := []rune(text)

	switch o := op.(type) {
	case Insert:
		if o.Position < 0 || o.Position > len(runes) {
			return "", fmt.Errorf("%w: insert at %d, text length %d", ErrOutOfRange, o.Position, len(runes))
		}
		return string(runes[:o.Position]) + o.Text + string(runes[o.Position:]), nil
	case Delete:
		end := o.Position + o.Length
		if o.Position < 0 || o.Length < 0 || end > len(runes) {
			return "", fmt.Errorf("%w: delete [%d, %d), text length %d", ErrOutOfRange, o.Position, end, len(runes))
		}
		return string(runes[:o.Position]) + string(runes[end:]), nil
	case Replace:
		at, err := locate(o, text, runes)
		if err != nil {
			return "", err
		}
		return string(runes[:at]) + o.NewText + string(runes[at+Len(o.OldText):]), nil
	default:
		panic(fmt.Sprintf("ot: unknown operation %T", op))
	}
}

// ApplyAll applies ops to text in order.
func ApplyAll(text string, ops ...Op) (string, error) {
	for i, op := range ops {
		next, err := Apply(op, text)
		if err != nil {
			return "", fmt.Errorf("operation %d: %w", i, err)
		}
		text = next
	}
	return text, nil
}

// Resolve pins op to the position it would take effect at in text. Only a
// replace can move: its position becomes the offset of the occurrence Apply
// would replace.
func Resolve(op Op, text string) (Op, error) {
	r, ok := op.(Replace)
	if !ok {
		return op, nil
	}
	at, err := locate(r, text, []rune(text))
	if err != nil {
		return nil, err
	}
	r.Position = at
	return r, nil
}

func locate(r Replace, text string, runes []rune) (int, error) {
	if r.Position < 0 || r.Position > len(runes) {
		return 0, fmt.Errorf("%w: replace at %d, text length %d", ErrOutOfRange, r.Position, len(runes))
	}
	if r.OldText == "" {
		return r.Position, nil
	}

	oldLen := Len(r.OldText)
	if r.Position+oldLen <= len(runes) && string(runes[r.Position:r.Position+oldLen]) == r.OldText {
		return r.Position, nil
	}

	idx := strings.Index(text, r.OldText)
	if idx < 0 {
		return 0, fmt.Errorf("%w: %q", ErrTextMismatch, r.OldText)
	}
	return utf8.RuneCountInString(text[:idx]), nil
}
