package ot

import "fmt"

// Validate checks op against a text of textLength code points.
func Validate(op Op, textLength int) error {
	if op.Pos() < 0 {
		return fmt.Errorf("%w: negative position %d", ErrInvalidOperation, op.Pos())
	}

	switch o := op.(type) {
	case Insert:
		if o.Text == "" {
			return fmt.Errorf("%w: insert text is empty", ErrInvalidOperation)
		}
		if o.Position > textLength {
			return fmt.Errorf("%w: insert at %d, text length %d", ErrOutOfRange, o.Position, textLength)
		}
	case Delete:
		if o.Length <= 0 {
			return fmt.Errorf("%w: delete length must be positive", ErrInvalidOperation)
		}
		if o.Position+o.Length > textLength {
			return fmt.Errorf("%w: delete [%d, %d), text length %d", ErrOutOfRange, o.Position, o.Position+o.Length, textLength)
		}
	case Replace:
		if o.OldText == "" {
			return fmt.Errorf("%w: replace old_text is empty", ErrInvalidOperation)
		}
		if o.Position > textLength {
			return fmt.Errorf("%w: replace at %d, text length %d", ErrOutOfRange, o.Position, textLength)
		}
	default:
		panic(fmt.Sprintf("ot: unknown operation %T", op))
	}
	return nil
}
