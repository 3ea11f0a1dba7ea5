package ot

import (
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	diffTimeout  = time.Second
	diffEditCost = 4
)

// Diff returns inserts and deletes that turn oldText into newText when
// applied in order.
func Diff(oldText, newText string) []Op {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = diffTimeout
	dmp.DiffEditCost = diffEditCost

	diffs := dmp.DiffMain(oldText, newText, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCleanupEfficiency(diffs)

	var ops []Op
	pos := 0
	for _, d := range diffs {
		n := Len(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			pos += n
		case diffmatchpatch.DiffInsert:
			ops = append(ops, Insert{Position: pos, Text: d.Text})
			pos += n
		case diffmatchpatch.DiffDelete:
			ops = append(ops, Delete{Position: pos, Length: n})
		}
	}
	return ops
}
