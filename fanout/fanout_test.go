package fanout

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNetwork struct{ id string }

func (f fakeNetwork) NetworkIdentifier() string { return f.id }

type fakeOperator struct {
	id    string
	calls int
}

func (f *fakeOperator) NetworkIdentifier() string { return f.id }

func TestNewRejectsMismatchedLengths(t *testing.T) {
	_, err := New([]fakeNetwork{{id: "eip155:1"}}, []*fakeOperator{})
	assert.Error(t, err)
}

func TestNewRejectsMismatchedIdentifiers(t *testing.T) {
	_, err := New(
		[]fakeNetwork{{id: "eip155:1"}},
		[]*fakeOperator{{id: "eip155:42161"}},
	)
	assert.Error(t, err)
}

func TestNewRejectsDuplicateIdentifiers(t *testing.T) {
	_, err := New(
		[]fakeNetwork{{id: "eip155:1"}, {id: "eip155:1"}},
		[]*fakeOperator{{id: "eip155:1"}, {id: "eip155:1"}},
	)
	assert.Error(t, err)
}

func TestMapPairsVisitsEveryJoinedPair(t *testing.T) {
	set, err := New(
		[]fakeNetwork{{id: "eip155:1"}, {id: "eip155:42161"}},
		[]*fakeOperator{{id: "eip155:1"}, {id: "eip155:42161"}},
	)
	require.NoError(t, err)

	var visited []string
	errs := set.MapPairs(func(n fakeNetwork, o *fakeOperator) error {
		visited = append(visited, n.NetworkIdentifier())
		o.calls++
		return nil
	})
	assert.Empty(t, errs)
	assert.ElementsMatch(t, []string{"eip155:1", "eip155:42161"}, visited)

	op, ok := set.Operator("eip155:1")
	require.True(t, ok)
	assert.Equal(t, 1, op.calls)
}

func TestMapOperatorsCollectsErrorsByIdentifier(t *testing.T) {
	set, err := New(
		[]fakeNetwork{{id: "eip155:1"}},
		[]*fakeOperator{{id: "eip155:1"}},
	)
	require.NoError(t, err)

	errs := set.MapOperators(func(o *fakeOperator) error {
		return errors.New("boom")
	})
	require.Len(t, errs, 1)
	assert.EqualError(t, errs["eip155:1"], "boom")
}

func TestNetworkIdentifiersPreservesInputOrder(t *testing.T) {
	set, err := New(
		[]fakeNetwork{{id: "eip155:42161"}, {id: "eip155:1"}},
		[]*fakeOperator{{id: "eip155:42161"}, {id: "eip155:1"}},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"eip155:42161", "eip155:1"}, set.NetworkIdentifiers())
}
