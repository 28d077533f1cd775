package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptional(t *testing.T) {
	t.Parallel()

	some := Some("berlin")
	v, ok := some.Get()
	require.True(t, ok)
	require.Equal(t, "berlin", v)
	require.Equal(t, "berlin", some.OrElse("x"))

	none := None[string]()
	require.False(t, none.Present())
	require.Equal(t, "x", none.OrElse("x"))
	require.Equal(t, some, none.Or(some))
	require.Equal(t, some, some.Or(Some("other")))
}

func TestTextTreatsBlankAsAbsent(t *testing.T) {
	t.Parallel()

	require.False(t, Text("").Present())
	require.False(t, Text(" \n\t").Present())
	require.True(t, Text(" a ").Present())
}

func TestStatusKnown(t *testing.T) {
	t.Parallel()

	require.True(t, StatusScheduled.Known())
	require.True(t, StatusCancelled.Known())
	require.False(t, StatusUnknown.Known())
	require.False(t, Status("").Known())
}
