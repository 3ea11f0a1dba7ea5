package ot

import "fmt"

// mode selects how ties and inserts landing inside a deleted range resolve.
type mode struct {
	// yield shifts an insert right when it ties with a concurrent insert.
	yield bool
	// absorb turns an insert inside a concurrently deleted range into a
	// no-op instead of moving it to the start of the range.
	absorb bool
}

// Transform rewrites op, issued against the same text as concurrent, so that
// it applies on top of concurrent. Inserts at the same position keep op's
// position, placing op's text before concurrent's. An insert inside a range
// concurrent deleted moves to the start of that range. A delete extends over
// text concurrent inserted inside it, and overlapping deletes shrink to the
// part not already removed.
func Transform(op, concurrent Op) Op {
	return transform(op, concurrent, mode{})
}

// Rebase transforms op against each committed operation in order. committed
// must form a sequential history starting from the text op was issued
// against.
func Rebase(op Op, committed ...Op) Op {
	for _, c := range committed {
		op = Transform(op, c)
	}
	return op
}

// TransformPair returns a' and b' such that applying b' after a yields the
// same text as applying a' after b. When both insert at the same position,
// b's text comes first. Inserts that land inside a range deleted by the other
// side are absorbed by the delete. The guarantee covers any pair of inserts
// and deletes, and a replace paired with an operation that does not overlap
// its range.
func TransformPair(a, b Op) (Op, Op) {
	return transform(a, b, mode{yield: true, absorb: true}),
		transform(b, a, mode{absorb: true})
}

func transform(op, against Op, m mode) Op {
	if ins, ok := op.(Insert); ok {
		if r, ok := against.(Replace); ok {
			return insertReplace(ins, r, m)
		}
	}
	for _, prim := range primitives(against) {
		op = transformPrimitive(op, prim, m)
	}
	return op
}

// primitives splits an operation into the inserts and deletes it performs.
func primitives(op Op) []Op {
	switch o := op.(type) {
	case Insert:
		return []Op{o}
	case Delete:
		return []Op{o}
	case Replace:
		var prims []Op
		if o.OldText != "" {
			prims = append(prims, Delete{Position: o.Position, Length: Len(o.OldText)})
		}
		if o.NewText != "" {
			prims = append(prims, Insert{Position: o.Position, Text: o.NewText})
		}
		return prims
	default:
		panic(fmt.Sprintf("ot: unknown operation %T", op))
	}
}

func transformPrimitive(op, prim Op, m mode) Op {
	switch o := op.(type) {
	case Insert:
		switch c := prim.(type) {
		case Insert:
			return insertInsert(o, c, m)
		case Delete:
			return insertDelete(o, c, m)
		}
	case Delete:
		switch c := prim.(type) {
		case Insert:
			return deleteInsert(o, c)
		case Delete:
			return deleteDelete(o, c)
		}
	case Replace:
		switch c := prim.(type) {
		case Insert:
			return replaceInsert(o, c)
		case Delete:
			return replaceDelete(o, c)
		}
	}
	panic(fmt.Sprintf("ot: cannot transform %T against %T", op, prim))
}

func insertInsert(o, c Insert, m mode) Op {
	if o.Position < c.Position || (o.Position == c.Position && !m.yield) {
		return o
	}
	o.Position += Len(c.Text)
	return o
}

func insertDelete(o Insert, c Delete, m mode) Op {
	end := c.Position + c.Length
	switch {
	case o.Position <= c.Position:
		return o
	case o.Position < end:
		if m.absorb {
			return Insert{Position: c.Position}
		}
		o.Position = c.Position
		return o
	default:
		o.Position -= c.Length
		return o
	}
}

// insertReplace treats the replaced range as one unit so that an insert at
// its end lands after the new text.
func insertReplace(o Insert, r Replace, m mode) Op {
	oldLen := Len(r.OldText)
	end := r.Position + oldLen
	switch {
	case o.Position <= r.Position:
		return o
	case o.Position < end:
		if m.absorb {
			return Insert{Position: r.Position}
		}
		o.Position = r.Position
		return o
	default:
		o.Position += Len(r.NewText) - oldLen
		return o
	}
}

func deleteInsert(o Delete, c Insert) Op {
	n := Len(c.Text)
	switch {
	case c.Position <= o.Position:
		o.Position += n
	case c.Position < o.Position+o.Length:
		o.Length += n
	}
	return o
}

func deleteDelete(o, c Delete) Op {
	oEnd := o.Position + o.Length
	cEnd := c.Position + c.Length
	switch {
	case oEnd <= c.Position:
		return o
	case cEnd <= o.Position:
		o.Position -= c.Length
		return o
	default:
		o.Length -= min(oEnd, cEnd) - max(o.Position, c.Position)
		o.Position = min(o.Position, c.Position)
		return o
	}
}

func replaceInsert(o Replace, c Insert) Op {
	old := []rune(o.OldText)
	switch {
	case c.Position <= o.Position:
		o.Position += Len(c.Text)
	case c.Position < o.Position+len(old):
		k := c.Position - o.Position
		o.OldText = string(old[:k]) + c.Text + string(old[k:])
	}
	return o
}

func replaceDelete(o Replace, c Delete) Op {
	old := []rune(o.OldText)
	oEnd := o.Position + len(old)
	cEnd := c.Position + c.Length
	switch {
	case oEnd <= c.Position:
		return o
	case cEnd <= o.Position:
		o.Position -= c.Length
		return o
	default:
		lo := max(o.Position, c.Position) - o.Position
		hi := min(oEnd, cEnd) - o.Position
		o.OldText = string(old[:lo]) + string(old[hi:])
		o.Position = min(o.Position, c.Position)
		if o.OldText == "" {
			// Nothing left to replace: only the new text remains to be
			// written.
			return Insert{Position: o.Position, Text: o.NewText}
		}
		return o
	}
}
