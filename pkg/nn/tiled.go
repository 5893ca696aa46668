package nn

import (
	"sync"

	"github.com/bmharper/tiledinference"
)

// TiledDetector runs a detector over overlapping tiles of an image that is larger than the
// model's input resolution, and merges the detections that straddle tile boundaries.
// Images that fit inside the model go straight through to the wrapped detector.
type TiledDetector struct {
	Detector   ObjectDetector
	Threads    int // Tiles inferred concurrently
	MinPadding int // Minimum overlap between adjacent tiles
}

func NewTiledDetector(detector ObjectDetector, threads int) *TiledDetector {
	return &TiledDetector{
		Detector:   detector,
		Threads:    max(threads, 1),
		MinPadding: 32,
	}
}

func (t *TiledDetector) Close() {
	t.Detector.Close()
}

func (t *TiledDetector) Config() *ModelConfig {
	return t.Detector.Config()
}

func (t *TiledDetector) DetectObjects(img ImageCrop, params *DetectionParams) ([]ObjectDetection, error) {
	config := t.Detector.Config()
	if config.Width <= 0 || config.Height <= 0 || (img.CropWidth <= config.Width && img.CropHeight <= config.Height) {
		return t.Detector.DetectObjects(img, params)
	}
	return TiledInference(t.Detector, img, params, t.MinPadding, t.Threads)
}

type tile struct {
	x int
	y int
}

// Run tiled inference on the image.
// Results are in the coordinates of the whole image, like any other ObjectDetector.
func TiledInference(model ObjectDetector, img ImageCrop, params *DetectionParams, minPadding, nThreads int) ([]ObjectDetection, error) {
	config := model.Config()
	tiling := tiledinference.MakeTiling(img.CropWidth, img.CropHeight, config.Width, config.Height, minPadding)

	tileQueue := make(chan tile, tiling.NumX*tiling.NumY)
	for ty := 0; ty < tiling.NumY; ty++ {
		for tx := 0; tx < tiling.NumX; tx++ {
			tileQueue <- tile{x: tx, y: ty}
		}
	}
	close(tileQueue)

	var lock sync.Mutex
	allObjects := []ObjectDetection{}
	allBoxes := []tiledinference.Box{}
	var firstError error

	var wg sync.WaitGroup
	for i := 0; i < max(nThreads, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tile := range tileQueue {
				objects, boxes, err := detectTile(model, params, tiling, tile.x, tile.y, img)
				lock.Lock()
				if err != nil {
					if firstError == nil {
						firstError = err
					}
				} else {
					allObjects = append(allObjects, objects...)
					allBoxes = append(allBoxes, boxes...)
				}
				lock.Unlock()
			}
		}()
	}
	wg.Wait()
	if firstError != nil {
		return nil, firstError
	}

	finalClip := Rect{X: img.CropX, Y: img.CropY, Width: img.CropWidth, Height: img.CropHeight}

	if tiling.IsSingle() {
		for i := range allObjects {
			allObjects[i].Box = allObjects[i].Box.Intersection(finalClip)
		}
		return allObjects, nil
	}

	merged := []ObjectDetection{}
	groups, mergedBoxes := tiledinference.MergeBoxes(tiling, allBoxes, nil)
	for igroup, group := range groups {
		obj := allObjects[group[0]]
		r := mergedBoxes[igroup].Rect
		// The merged box can be larger than any single member of the group
		obj.Box = Rect{X: int(r.X1) + img.CropX, Y: int(r.Y1) + img.CropY, Width: int(r.Width()), Height: int(r.Height())}
		obj.Box = obj.Box.Intersection(finalClip)
		for _, el := range group[1:] {
			obj.Confidence = max(obj.Confidence, allObjects[el].Confidence)
		}
		if len(group) > 1 {
			// The sub-pixel size belongs to one member, not to the merged box
			obj.RawWidth, obj.RawHeight = 0, 0
		}
		merged = append(merged, obj)
	}
	return merged, nil
}

// Returns two parallel arrays. The tiledinference boxes are relative to img, and the detections
// are in whole image coordinates.
func detectTile(model ObjectDetector, params *DetectionParams, tiling tiledinference.Tiling, tx, ty int, img ImageCrop) ([]ObjectDetection, []tiledinference.Box, error) {
	tileRect := tiling.TileRect(tx, ty)
	crop := img.Crop(int(tileRect.X1), int(tileRect.Y1), int(tileRect.X2), int(tileRect.Y2))
	objects, err := model.DetectObjects(crop, params)
	if err != nil {
		return nil, nil, err
	}
	boxes := make([]tiledinference.Box, 0, len(objects))
	for _, obj := range objects {
		x1 := obj.Box.X - img.CropX
		y1 := obj.Box.Y - img.CropY
		boxes = append(boxes, tiledinference.Box{
			Rect: tiledinference.Rect{
				X1: int32(x1),
				Y1: int32(y1),
				X2: int32(x1 + obj.Box.Width),
				Y2: int32(y1 + obj.Box.Height),
			},
			Class: int32(obj.Class),
			Tile:  tiling.MakeTileIndex(tx, ty),
		})
	}
	return objects, boxes, nil
}
