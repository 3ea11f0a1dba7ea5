package ot_test

import (
	"testing"

	"github.com/rpggio/inkwell/internal/ot"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		op      ot.Op
		length  int
		wantErr error
	}{
		{"insert at end", ot.Insert{Position: 5, Text: "x"}, 5, nil},
		{"insert past end", ot.Insert{Position: 6, Text: "x"}, 5, ot.ErrOutOfRange},
		{"insert empty text", ot.Insert{Position: 0, Text: ""}, 5, ot.ErrInvalidOperation},
		{"negative position", ot.Insert{Position: -1, Text: "x"}, 5, ot.ErrInvalidOperation},
		{"delete to end", ot.Delete{Position: 3, Length: 2}, 5, nil},
		{"delete past end", ot.Delete{Position: 3, Length: 3}, 5, ot.ErrOutOfRange},
		{"delete zero length", ot.Delete{Position: 0, Length: 0}, 5, ot.ErrInvalidOperation},
		{"delete negative length", ot.Delete{Position: 0, Length: -2}, 5, ot.ErrInvalidOperation},
		{"replace", ot.Replace{Position: 0, OldText: "a", NewText: "b"}, 5, nil},
		{"replace empty old text", ot.Replace{Position: 0, OldText: "", NewText: "b"}, 5, ot.ErrInvalidOperation},
		{"replace past end", ot.Replace{Position: 9, OldText: "a", NewText: "b"}, 5, ot.ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ot.Validate(tt.op, tt.length)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidate_EmptyDocument(t *testing.T) {
	require.NoError(t, ot.Validate(ot.Insert{Position: 0, Text: "a"}, 0))
	require.ErrorIs(t, ot.Validate(ot.Delete{Position: 0, Length: 1}, 0), ot.ErrOutOfRange)
}
