package classify

import (
	"context"
	"fmt"

	"github.com/cyclopcam/railalert/pkg/imagex"
	"github.com/cyclopcam/railalert/pkg/nn"
	"github.com/cyclopcam/railalert/server/capability"
)

type PrimaryResult struct {
	LegalOccupierVehicle int
	Train                int
	Truck                int
	OccupierOutcomes     []capability.Outcome
	Objects              []nn.ObjectDetection
}

func (c *Classifier) runPrimary(ctx context.Context, imageID string, frame *imagex.Frame) (PrimaryResult, error) {
	res := PrimaryResult{}
	objects, err := c.opt.PrimaryDetector.DetectObjects(frame.WholeCrop(), nn.NewDetectionParamsWithContext(ctx, c.opt.PrimaryThreshold))
	if err != nil {
		return res, fmt.Errorf("%w: primary detector on %v: %v", ErrDetectorFailed, imageID, err)
	}
	res.Objects = objects

	for _, obj := range objects {
		switch c.primaryClass(obj.Class) {
		case ClassLegalOccupier:
			outcome := c.disambiguate(ctx, frame, obj.Box)
			res.OccupierOutcomes = append(res.OccupierOutcomes, outcome)
			if outcome.IsEvidence() {
				res.LegalOccupierVehicle++
			}
		case ClassTrain:
			res.Train++
		case ClassTruck:
			res.Truck++
		}
	}

	if c.opt.Audit != nil {
		c.writeAudit(imageID, frame, objects)
	}
	return res, nil
}

func (c *Classifier) primaryClass(cls int) Class {
	if cls < 0 || cls >= len(c.primaryClasses) {
		return ClassOther
	}
	return c.primaryClasses[cls]
}

// Ask the vision-language model whether the box holds a vehicle or a person
func (c *Classifier) disambiguate(ctx context.Context, frame *imagex.Frame, box nn.Rect) capability.Outcome {
	if c.opt.Disambiguator == nil {
		return capability.Unavailable
	}
	crop, err := frame.Crop(box)
	if err != nil {
		return capability.Unavailable
	}
	jpg, err := crop.EncodeJPEG(c.opt.JPEGQuality)
	if err != nil {
		c.log.Warnf("%v", err)
		return capability.Unavailable
	}
	return capability.IsVehicle(ctx, c.log, c.opt.Disambiguator, jpg, c.opt.DisambiguationTimeout)
}
