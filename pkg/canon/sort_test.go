package canon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSortedJSON_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 1, "a": map[string]any{"z": 1, "y": 2}}
	b := map[string]any{"a": map[string]any{"y": 2, "z": 1}, "b": 1}

	sa, err := SortedJSON(a)
	require.NoError(t, err)
	sb, err := SortedJSON(b)
	require.NoError(t, err)
	require.Equal(t, sa, sb)
}

func TestSortedJSON_Deterministic(t *testing.T) {
	v := map[string]any{"z": []any{1, 2, 3}, "a": "x"}
	s1, err := SortedJSON(v)
	require.NoError(t, err)
	s2, err := SortedJSON(v)
	require.NoError(t, err)
	require.Equal(t, s1, s2)
	require.Equal(t, `{"a":"x","z":[1,2,3]}`, s1)
}
