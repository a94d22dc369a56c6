package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexOf(items []string, target string) int {
	for i, item := range items {
		if item == target {
			return i
		}
	}
	return -1
}

func TestValidateCheckDAG_LinearChain(t *testing.T) {
	sorted, err := ValidateCheckDAG(
		[]string{"build", "test", "lint"},
		map[string][]string{
			"test": {"build"},
			"lint": {"test"},
		},
	)
	require.NoError(t, err)
	require.Len(t, sorted, 3)
	assert.Less(t, indexOf(sorted, "build"), indexOf(sorted, "test"))
	assert.Less(t, indexOf(sorted, "test"), indexOf(sorted, "lint"))
}

func TestValidateCheckDAG_Diamond(t *testing.T) {
	sorted, err := ValidateCheckDAG(
		[]string{"a", "b", "c", "d"},
		map[string][]string{
			"b": {"a"},
			"c": {"a"},
			"d": {"b", "c"},
		},
	)
	require.NoError(t, err)
	require.Len(t, sorted, 4)
	assert.Less(t, indexOf(sorted, "a"), indexOf(sorted, "b"))
	assert.Less(t, indexOf(sorted, "a"), indexOf(sorted, "c"))
	assert.Less(t, indexOf(sorted, "b"), indexOf(sorted, "d"))
	assert.Less(t, indexOf(sorted, "c"), indexOf(sorted, "d"))
}

func TestValidateCheckDAG_Cycle(t *testing.T) {
	_, err := ValidateCheckDAG(
		[]string{"a", "b", "c"},
		map[string][]string{
			"a": {"c"},
			"b": {"a"},
			"c": {"b"},
		},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")
	// The reported path names the actual cycle members.
	for _, id := range []string{"a", "b", "c"} {
		assert.Contains(t, err.Error(), id)
	}
	assert.Contains(t, err.Error(), " -> ")
}

func TestValidateCheckDAG_CyclePathClosesLoop(t *testing.T) {
	_, err := ValidateCheckDAG(
		[]string{"a", "b"},
		map[string][]string{
			"a": {"b"},
			"b": {"a"},
		},
	)
	require.Error(t, err)

	_, path, found := strings.Cut(err.Error(), ": ")
	require.True(t, found)
	hops := strings.Split(path, " -> ")
	require.GreaterOrEqual(t, len(hops), 3)
	assert.Equal(t, hops[0], hops[len(hops)-1], "the path must return to its start")
}

func TestValidateCheckDAG_SelfLoop(t *testing.T) {
	_, err := ValidateCheckDAG(
		[]string{"a"},
		map[string][]string{"a": {"a"}},
	)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "circular dependency"))
}

func TestValidateCheckDAG_Empty(t *testing.T) {
	sorted, err := ValidateCheckDAG(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, sorted)
}

func TestValidateCheckDAG_UnknownRefSkipped(t *testing.T) {
	// Unknown references surface as field violations elsewhere; the DAG
	// must not report them as cycles.
	sorted, err := ValidateCheckDAG(
		[]string{"a"},
		map[string][]string{"a": {"ghost"}},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, sorted)
}
