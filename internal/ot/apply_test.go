package ot_test

import (
	"testing"

	"github.com/rpggio/inkwell/internal/ot"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name string
		text string
		op   ot.Op
		want string
	}{
		{"insert middle", "Hello world", ot.Insert{Position: 5, Text: ","}, "Hello, world"},
		{"insert end", "Hello", ot.Insert{Position: 5, Text: "!"}, "Hello!"},
		{"insert into empty", "", ot.Insert{Position: 0, Text: "a"}, "a"},
		{"delete prefix", "Hello world", ot.Delete{Position: 0, Length: 6}, "world"},
		{"delete noop", "Hello", ot.Delete{Position: 2}, "Hello"},
		{"replace anchored", "a b a", ot.Replace{Position: 4, OldText: "a", NewText: "c"}, "a b c"},
		{"replace first match", "one two", ot.Replace{Position: 0, OldText: "two", NewText: "2"}, "one 2"},
		{"replace with empty", "one two", ot.Replace{Position: 3, OldText: " two", NewText: ""}, "one"},
		{"replace collapsed range inserts", "ab", ot.Replace{Position: 1, NewText: "x"}, "axb"},
		{"code points", "héllo", ot.Insert{Position: 2, Text: "X"}, "héXllo"},
		{"code point delete", "日本語です", ot.Delete{Position: 1, Length: 2}, "日です"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ot.Apply(tt.op, tt.text)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestApply_Errors(t *testing.T) {
	_, err := ot.Apply(ot.Insert{Position: 6, Text: "x"}, "Hello")
	require.ErrorIs(t, err, ot.ErrOutOfRange)

	_, err = ot.Apply(ot.Delete{Position: 3, Length: 3}, "Hello")
	require.ErrorIs(t, err, ot.ErrOutOfRange)

	_, err = ot.Apply(ot.Replace{Position: 0, OldText: "zz", NewText: "y"}, "Hello")
	require.ErrorIs(t, err, ot.ErrTextMismatch)
	require.ErrorIs(t, err, ot.ErrInvalidOperation)
}

func TestApplyAll(t *testing.T) {
	got, err := ot.ApplyAll("Hello world",
		ot.Insert{Position: 6, Text: "there "},
		ot.Delete{Position: 0, Length: 6},
		ot.Replace{Position: 6, OldText: "world", NewText: "friend"},
	)
	require.NoError(t, err)
	require.Equal(t, "there friend", got)

	_, err = ot.ApplyAll("abc", ot.Delete{Position: 0, Length: 1}, ot.Delete{Position: 2, Length: 1})
	require.ErrorIs(t, err, ot.ErrOutOfRange)
}

func TestResolve(t *testing.T) {
	op, err := ot.Resolve(ot.Replace{Position: 0, OldText: "two", NewText: "2"}, "one two")
	require.NoError(t, err)
	require.Equal(t, ot.Replace{Position: 4, OldText: "two", NewText: "2"}, op)

	op, err = ot.Resolve(ot.Insert{Position: 1, Text: "x"}, "ab")
	require.NoError(t, err)
	require.Equal(t, ot.Insert{Position: 1, Text: "x"}, op)

	_, err = ot.Resolve(ot.Replace{Position: 0, OldText: "zz", NewText: "y"}, "ab")
	require.ErrorIs(t, err, ot.ErrTextMismatch)
}
