package roi

import (
	flatbush "github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/railalert/pkg/nn"
)

// Index is a read-only spatial index over a set of regions.
// It gives the same answers as Intersects(box, regions), but only runs the exact test
// on regions whose bounding boxes are near the query box.
// An Index is safe for concurrent use once created.
type Index struct {
	regions []Region
	fb      *flatbush.Flatbush[int32]
}

func NewIndex(regions []Region) *Index {
	idx := &Index{
		regions: regions,
	}
	if len(regions) == 0 {
		return idx
	}
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(regions))
	for _, r := range regions {
		fb.Add(int32(r.Bounds.X), int32(r.Bounds.Y), int32(r.Bounds.X2()), int32(r.Bounds.Y2()))
	}
	fb.Finish()
	idx.fb = fb
	return idx
}

func (x *Index) Regions() []Region {
	return x.regions
}

func (x *Index) Len() int {
	return len(x.regions)
}

// Intersects returns true if the box intersects any region in the index
func (x *Index) Intersects(box nn.Rect) bool {
	if x == nil || x.fb == nil {
		return false
	}
	// Expand the query by 1 pixel so that boundary touches are never pruned by the prefilter
	candidates := x.fb.Search(int32(box.X-1), int32(box.Y-1), int32(box.X2()+1), int32(box.Y2()+1))
	for _, i := range candidates {
		if x.regions[i].Intersects(box) {
			return true
		}
	}
	return false
}
