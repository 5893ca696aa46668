package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/cyclopcam/railalert/pkg/imagex"
	"github.com/cyclopcam/railalert/pkg/nn"
	"github.com/cyclopcam/railalert/server/locations"
)

// LabelCount is the number of objects of one class
type LabelCount struct {
	Label string
	Count int
}

type FallbackResult struct {
	Counts  []LabelCount // In the order that labels were first seen
	Summary string       // eg "car:2, person:1". Empty if nothing was counted.
}

func (c *Classifier) runFallback(ctx context.Context, frame *imagex.Frame, loc *locations.Location) (FallbackResult, error) {
	objects, err := c.opt.GeneralDetector.DetectObjects(frame.WholeCrop(), nn.NewDetectionParamsWithContext(ctx, c.opt.FallbackThreshold))
	if err != nil {
		return FallbackResult{}, fmt.Errorf("%w: general detector: %v", ErrDetectorFailed, err)
	}
	config := c.opt.GeneralDetector.Config()
	counts := []LabelCount{}
	index := map[string]int{}
	for _, obj := range objects {
		label := strings.ToLower(config.ClassName(obj.Class))
		if label == "" {
			label = fmt.Sprintf("%v", obj.Class)
		}
		if !c.fallbackAllowed[label] {
			continue
		}
		if !loc.IntersectsCrossing(obj.Box) {
			continue
		}
		if i, ok := index[label]; ok {
			counts[i].Count++
		} else {
			index[label] = len(counts)
			counts = append(counts, LabelCount{Label: label, Count: 1})
		}
	}
	return FallbackResult{
		Counts:  counts,
		Summary: Summarize(counts),
	}, nil
}

// Summarize formats counts as "label:count" pairs joined by ", "
func Summarize(counts []LabelCount) string {
	parts := make([]string, 0, len(counts))
	for _, lc := range counts {
		parts = append(parts, fmt.Sprintf("%v:%v", lc.Label, lc.Count))
	}
	return strings.Join(parts, ", ")
}
