package spdu_test

import (
	"slices"
	"testing"

	"github.com/gordian-engine/sardine/spdu"
	"github.com/stretchr/testify/require"
)

func TestNew_validation(t *testing.T) {
	t.Parallel()

	_, err := spdu.New(nil)
	require.ErrorIs(t, err, spdu.ErrNoPDUs)

	_, err = spdu.New([][]byte{{1}, {}, {3}})
	require.ErrorIs(t, err, spdu.EmptyPDUError{Index: 1})
}

func TestSet_Get(t *testing.T) {
	t.Parallel()

	s, err := spdu.New([][]byte{[]byte("a"), []byte("b")})
	require.NoError(t, err)

	require.Equal(t, 2, s.Len())

	p, ok := s.Get(1)
	require.True(t, ok)
	require.Equal(t, []byte("b"), p)

	_, ok = s.Get(2)
	require.False(t, ok)

	_, ok = s.Get(-1)
	require.False(t, ok)
}

func TestSet_Indices_restartable(t *testing.T) {
	t.Parallel()

	s, err := spdu.New([][]byte{{0}, {1}, {2}, {3}})
	require.NoError(t, err)

	seq := s.Indices()
	require.Equal(t, []int{0, 1, 2, 3}, slices.Collect(seq))

	// Second pass over the same iterator gives the same result.
	require.Equal(t, []int{0, 1, 2, 3}, slices.Collect(seq))

	// Early stop is respected.
	var got []int
	for i := range seq {
		got = append(got, i)
		if i == 1 {
			break
		}
	}
	require.Equal(t, []int{0, 1}, got)
}

func TestSet_All(t *testing.T) {
	t.Parallel()

	s, err := spdu.New([][]byte{{10}, {11}})
	require.NoError(t, err)

	var idxs []int
	var pdus [][]byte
	for i, p := range s.All() {
		idxs = append(idxs, i)
		pdus = append(pdus, p)
	}

	require.Equal(t, []int{0, 1}, idxs)
	require.Equal(t, [][]byte{{10}, {11}}, pdus)
}
