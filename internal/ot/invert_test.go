package ot_test

import (
	"testing"

	"github.com/rpggio/inkwell/internal/ot"
	"github.com/stretchr/testify/require"
)

func TestInvert(t *testing.T) {
	tests := []struct {
		name string
		text string
		op   ot.Op
		want ot.Op
	}{
		{"insert", "Hello", ot.Insert{Position: 5, Text: " you"}, ot.Delete{Position: 5, Length: 4}},
		{"delete", "Hello world", ot.Delete{Position: 5, Length: 6}, ot.Insert{Position: 5, Text: " world"}},
		{"replace", "one two", ot.Replace{Position: 0, OldText: "two", NewText: "2"}, ot.Replace{Position: 4, OldText: "2", NewText: "two"}},
		{"code points", "añb", ot.Delete{Position: 1, Length: 1}, ot.Insert{Position: 1, Text: "ñ"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inverse, err := ot.Invert(tt.op, tt.text)
			require.NoError(t, err)
			require.Equal(t, tt.want, inverse)

			applied, err := ot.Apply(tt.op, tt.text)
			require.NoError(t, err)
			restored, err := ot.Apply(inverse, applied)
			require.NoError(t, err)
			require.Equal(t, tt.text, restored)
		})
	}
}

func TestInvert_OutOfRange(t *testing.T) {
	_, err := ot.Invert(ot.Delete{Position: 2, Length: 5}, "abc")
	require.ErrorIs(t, err, ot.ErrOutOfRange)
}
