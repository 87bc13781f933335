package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lctcache/pkg/contract"
)

func dem() contract.Elevation {
	return contract.Elevation{Rows: 2, Cols: 5, Values: make([]float64, 10), Geo: contract.GeoRef{CellSize: 1}}
}

// TestStripes 配额按编码顺序连续填充。
func TestStripes(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	l, err := m.Match(context.Background(), dem(), contract.MatchRequest{Proportions: []float64{0, 0.3, 0.5, 0.2, 0}, Iterations: 1})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 1, 1, 2, 2}, {2, 2, 2, 3, 3}}, l.Rows2D())
	assert.Equal(t, 1, m.Calls())
}

// TestOffset 偏移作用于每个编码。
func TestOffset(t *testing.T) {
	m, _ := New(&Options{Offset: 5})
	l, err := m.Match(context.Background(), dem(), contract.MatchRequest{Proportions: []float64{1, 0, 0, 0, 0}, Iterations: 1})
	require.NoError(t, err)
	for _, v := range l.Cells {
		assert.Equal(t, 5, v)
	}
}
