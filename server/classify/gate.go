package classify

import (
	"context"

	"github.com/cyclopcam/railalert/pkg/imagex"
	"github.com/cyclopcam/railalert/pkg/nn"
	"github.com/cyclopcam/railalert/server/capability"
	"github.com/cyclopcam/railalert/server/locations"
)

// GatePath is the strategy that the gate stage chose for an image
type GatePath int

const (
	GatePathHeuristic GatePath = iota // No gate regions: local detector + aspect ratio
	GatePathValidator                 // Gate regions: crops sent to the external validator
)

func (p GatePath) String() string {
	if p == GatePathValidator {
		return "validator"
	}
	return "heuristic"
}

type GateResult struct {
	Path     GatePath
	Count    int                  // Units of horizontal gate evidence
	Outcomes []capability.Outcome // Validator path only, one per region
}

// The gate stage never fails. Any problem means "no evidence".
func (c *Classifier) runGate(ctx context.Context, loc *locations.Location, frame *imagex.Frame) GateResult {
	if !loc.HasGateRegions() {
		return GateResult{
			Path:  GatePathHeuristic,
			Count: c.gateHeuristic(ctx, frame),
		}
	}
	return c.gateValidate(ctx, loc, frame)
}

// Every gate box that is wider than it is tall (by GateAspectRatio) is a lowered gate.
// The ratio uses the model's sub-pixel size, so that rounding never moves a box across the threshold.
func (c *Classifier) gateHeuristic(ctx context.Context, frame *imagex.Frame) int {
	if c.opt.GateDetector == nil {
		return 0
	}
	objects, err := c.opt.GateDetector.DetectObjects(frame.WholeCrop(), nn.NewDetectionParamsWithContext(ctx, c.opt.GateThreshold))
	if err != nil {
		c.log.Warnf("Gate detector failed: %v", err)
		return 0
	}
	n := 0
	for _, obj := range objects {
		if _, h := obj.Size(); h <= 0 {
			continue
		}
		if obj.AspectRatio() > c.opt.GateAspectRatio {
			n++
		}
	}
	return n
}

func (c *Classifier) gateValidate(ctx context.Context, loc *locations.Location, frame *imagex.Frame) GateResult {
	res := GateResult{
		Path: GatePathValidator,
	}
	for i, region := range loc.GateRegions {
		outcome := c.validateRegion(ctx, loc.Key, i, region.Bounds, frame)
		res.Outcomes = append(res.Outcomes, outcome)
		if outcome.IsEvidence() {
			res.Count++
		}
	}
	return res
}

func (c *Classifier) validateRegion(ctx context.Context, key string, idx int, bounds nn.Rect, frame *imagex.Frame) capability.Outcome {
	if c.opt.GateValidator == nil {
		return capability.Unavailable
	}
	crop, err := frame.Crop(bounds)
	if err != nil {
		c.log.Warnf("Gate region %v of %v is outside the frame", idx, key)
		return capability.Unavailable
	}
	png, err := crop.EncodePNG()
	if err != nil {
		c.log.Warnf("Gate region %v of %v: %v", idx, key, err)
		return capability.Unavailable
	}
	if c.opt.GateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opt.GateTimeout)
		defer cancel()
	}
	outcome, _ := c.opt.GateValidator.Validate(ctx, png)
	c.log.Debugf("Gate region %v of %v: %v", idx, key, outcome)
	return outcome
}
