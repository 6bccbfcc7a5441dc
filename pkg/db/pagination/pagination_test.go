package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLimit(t *testing.T) {
	require.Equal(t, DefaultPageSize, Pagination{}.Limit())
	require.Equal(t, 20, Pagination{PageSize: 20}.Limit())
	require.Equal(t, MaxPageSize, Pagination{PageSize: 10_000}.Limit())
}

func TestTrim(t *testing.T) {
	rows := []string{"a", "b", "c"}

	page, info, err := Trim(rows, 2, func(s string) Cursor { return Cursor{ID: s} })
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, page)
	require.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	require.Equal(t, "b", cursor.ID)

	page, info, err = Trim(rows, 5, func(s string) Cursor { return Cursor{ID: s} })
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextPageToken)
}

func TestDecodeEmptyCursor(t *testing.T) {
	cursor, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, cursor)
}
