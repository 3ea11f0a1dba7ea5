package ot

import "fmt"

// Invert returns the operation that undoes op. original is the text op was
// applied to.
func Invert(op Op, original string) (Op, error) {
	switch o := op.(type) {
	case Insert:
		return Delete{Position: o.Position, Length: Len(o.Text)}, nil
	case Delete:
		runes := []rune(original)
		end := o.Position + o.Length
		if o.Position < 0 || end > len(runes) {
			return nil, fmt.Errorf("%w: delete [%d, %d), text length %d", ErrOutOfRange, o.Position, end, len(runes))
		}
		return Insert{Position: o.Position, Text: string(runes[o.Position:end])}, nil
	case Replace:
		resolved, err := Resolve(o, original)
		if err != nil {
			return nil, err
		}
		r := resolved.(Replace)
		return Replace{Position: r.Position, OldText: r.NewText, NewText: r.OldText}, nil
	default:
		panic(fmt.Sprintf("ot: unknown operation %T", op))
	}
}
