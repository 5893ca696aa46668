package roi

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/cyclopcam/railalert/pkg/nn"
	"github.com/stretchr/testify/require"
)

func triangle() Region {
	return NewPolygon([]nn.Point{{X: 100, Y: 100}, {X: 200, Y: 100}, {X: 100, Y: 200}})
}

func TestEmptyRegionSet(t *testing.T) {
	require.False(t, Intersects(nn.Rect{X: 0, Y: 0, Width: 100, Height: 100}, nil))
	require.False(t, Intersects(nn.Rect{X: 0, Y: 0, Width: 100, Height: 100}, []Region{}))
	require.False(t, NewIndex(nil).Intersects(nn.Rect{X: 0, Y: 0, Width: 100, Height: 100}))
	var nilIndex *Index
	require.False(t, nilIndex.Intersects(nn.Rect{}))
}

func TestRectRegion(t *testing.T) {
	r := NewRect(50, 40, 10, 20) // corners given in reverse order
	require.Equal(t, nn.Rect{X: 10, Y: 20, Width: 40, Height: 20}, r.Bounds)
	regions := []Region{r}

	// Fully inside
	require.True(t, Intersects(nn.Rect{X: 20, Y: 25, Width: 5, Height: 5}, regions))
	// Fully contains the region
	require.True(t, Intersects(nn.Rect{X: 0, Y: 0, Width: 100, Height: 100}, regions))
	// Partial overlap
	require.True(t, Intersects(nn.Rect{X: 45, Y: 35, Width: 20, Height: 20}, regions))
	// Edge touch
	require.True(t, Intersects(nn.Rect{X: 50, Y: 20, Width: 10, Height: 10}, regions))
	// Disjoint
	require.False(t, Intersects(nn.Rect{X: 51, Y: 20, Width: 10, Height: 10}, regions))
	require.False(t, Intersects(nn.Rect{X: 0, Y: 0, Width: 5, Height: 5}, regions))
}

func TestPolygonRegion(t *testing.T) {
	regions := []Region{triangle()}

	// Box inside the triangle
	require.True(t, Intersects(nn.Rect{X: 110, Y: 110, Width: 10, Height: 10}, regions))
	// Box containing the triangle
	require.True(t, Intersects(nn.Rect{X: 0, Y: 0, Width: 300, Height: 300}, regions))
	// Box in the bounding box of the triangle, but on the far side of the hypotenuse
	require.False(t, Intersects(nn.Rect{X: 170, Y: 170, Width: 20, Height: 20}, regions))
	// Box straddling the hypotenuse
	require.True(t, Intersects(nn.Rect{X: 140, Y: 140, Width: 30, Height: 30}, regions))
	// Box crossing an edge without containing any vertex, and with no corner inside the polygon
	require.True(t, Intersects(nn.Rect{X: 60, Y: 140, Width: 200, Height: 5}, regions))
}

func TestDegenerateBox(t *testing.T) {
	regions := []Region{NewRect(0, 0, 10, 10), triangle()}

	// A point
	require.True(t, Intersects(nn.Rect{X: 5, Y: 5}, regions))
	require.True(t, Intersects(nn.Rect{X: 120, Y: 120}, regions))
	require.False(t, Intersects(nn.Rect{X: 190, Y: 190}, regions))
	// A horizontal line crossing the triangle's left edge
	require.True(t, Intersects(nn.Rect{X: 50, Y: 150, Width: 100, Height: 0}, regions))
	// A vertical line that misses everything
	require.False(t, Intersects(nn.Rect{X: 50, Y: 20, Width: 0, Height: 50}, regions))
}

func TestRegionJSON(t *testing.T) {
	var regions []Region
	err := json.Unmarshal([]byte(`[
		{"rect": [[10,20],[30,40]]},
		{"polygon": [[0,0],[10,0],[0,10]]},
		[[5,5],[1,1]],
		[[0,0],[4,0],[4,4],[0,4]]
	]`), &regions)
	require.NoError(t, err)
	require.Len(t, regions, 4)
	require.True(t, regions[0].IsRect)
	require.Equal(t, nn.Rect{X: 10, Y: 20, Width: 20, Height: 20}, regions[0].Bounds)
	require.False(t, regions[1].IsRect)
	require.Len(t, regions[1].Points, 3)
	require.True(t, regions[2].IsRect)
	require.Equal(t, nn.Rect{X: 1, Y: 1, Width: 4, Height: 4}, regions[2].Bounds)
	require.False(t, regions[3].IsRect)

	b, err := json.Marshal(regions[0])
	require.NoError(t, err)
	require.JSONEq(t, `{"rect": [[10,20],[30,40]]}`, string(b))

	var bad Region
	require.Error(t, json.Unmarshal([]byte(`{"rect": [[1,2]]}`), &bad))
	require.ErrorIs(t, json.Unmarshal([]byte(`[]`), &bad), ErrEmptyRegion)
}

// The spatial index must agree with the brute force test
func TestIndexMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	regions := []Region{}
	for i := 0; i < 30; i++ {
		x := rng.Intn(1000)
		y := rng.Intn(1000)
		if i%2 == 0 {
			regions = append(regions, NewRect(x, y, x+rng.Intn(100), y+rng.Intn(100)))
		} else {
			regions = append(regions, NewPolygon([]nn.Point{{X: x, Y: y}, {X: x + rng.Intn(150), Y: y + 10}, {X: x + 20, Y: y + rng.Intn(150)}}))
		}
	}
	idx := NewIndex(regions)
	require.Equal(t, 30, idx.Len())
	for i := 0; i < 2000; i++ {
		box := nn.Rect{X: rng.Intn(1100) - 50, Y: rng.Intn(1100) - 50, Width: rng.Intn(60), Height: rng.Intn(60)}
		require.Equal(t, Intersects(box, regions), idx.Intersects(box), "box %v", box)
	}
}
