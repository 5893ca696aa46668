// Package classify decides whether the image attached to a rail crossing alert shows a real violation.
//
// Each image runs through three stages, strictly in order:
//
//	gate      Is the crossing gate down? Either a local shape heuristic, or an external validator
//	          that looks at configured gate regions.
//	primary   A purpose-trained detector looks for trains, trucks, and legal-occupier vehicles.
//	          Legal occupiers are confirmed by a vision-language model.
//	fallback  Only if the primary stage found nothing, and the location has crossing regions:
//	          a general detector counts people and vehicles inside those regions.
//
// The results are combined into one Record per image.
package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/railalert/pkg/imagex"
	"github.com/cyclopcam/railalert/pkg/logx"
	"github.com/cyclopcam/railalert/pkg/nn"
	"github.com/cyclopcam/railalert/pkg/perfstats"
	"github.com/cyclopcam/railalert/pkg/roi"
	"github.com/cyclopcam/railalert/pkg/storage"
	"github.com/cyclopcam/railalert/server/capability"
	"github.com/cyclopcam/railalert/server/locations"
)

const (
	DefaultGateThreshold     = 0.25
	DefaultPrimaryThreshold  = 0.5
	DefaultFallbackThreshold = 0.25
	DefaultGateAspectRatio   = 1.5
)

// Classes that the fallback stage is allowed to count. Others are too hard to tell apart at crossing distance.
var DefaultFallbackClasses = []string{nn.COCOClasses[nn.COCOPerson], nn.COCOClasses[nn.COCOCar], nn.COCOClasses[nn.COCOTruck], nn.COCOClasses[nn.COCOBicycle]}

var ErrDetectorFailed = errors.New("Detector failed")

// HeaderReader extracts the text that a camera burns into the top of its frames
type HeaderReader interface {
	ReadHeader(frame *imagex.Frame, crop roi.Region) (string, error)
}

// Options holds everything the classifier needs. Nothing in here is modified after NewClassifier.
type Options struct {
	Locations       *locations.Config // Region sets. nil is the same as locations.Empty()
	GateDetector    nn.ObjectDetector // Used when a location has no gate regions. May be nil.
	PrimaryDetector nn.ObjectDetector // Required
	GeneralDetector nn.ObjectDetector // Used by the fallback stage. May be nil, in which case the fallback never runs.

	GateValidator capability.GateValidator // May be nil, in which case gate regions yield no evidence
	Disambiguator capability.Disambiguator // May be nil, in which case legal occupiers are never counted

	PrimaryLabels   LabelTable // Translation of primary model labels. nil = DefaultPrimaryLabels()
	FallbackClasses []string   // Lowercase labels that the fallback stage counts. nil = DefaultFallbackClasses

	GateThreshold     float32 // 0 = DefaultGateThreshold
	PrimaryThreshold  float32 // 0 = DefaultPrimaryThreshold
	FallbackThreshold float32 // 0 = DefaultFallbackThreshold
	GateAspectRatio   float32 // width/height above which a gate detection is horizontal. 0 = DefaultGateAspectRatio

	GateTimeout           time.Duration // Overall limit per gate region. 0 = leave it to the validator
	DisambiguationTimeout time.Duration // 0 = capability.DefaultDisambiguationTimeout

	// If true, gate evidence alone prevents the fallback stage from running.
	// By default only the primary stage's counters decide whether the fallback runs.
	GateSuppressesFallback bool

	Audit       storage.Storage // If not nil, annotated copies of every frame are written here
	HeaderOCR   HeaderReader    // If not nil, the first header crop of a location is read into Record.HeaderText
	Stats       *perfstats.Stages
	JPEGQuality int // For crops and audit frames. 0 = imagex.DefaultJPEGQuality
}

// Classifier is safe for concurrent use
type Classifier struct {
	log             logs.Log
	opt             Options
	primaryClasses  []Class
	fallbackAllowed map[string]bool
}

func NewClassifier(log logs.Log, opt Options) (*Classifier, error) {
	if opt.PrimaryDetector == nil {
		return nil, errors.New("A primary detector is required")
	}
	if opt.Locations == nil {
		opt.Locations = locations.Empty()
	}
	if opt.PrimaryLabels == nil {
		opt.PrimaryLabels = DefaultPrimaryLabels()
	}
	if opt.FallbackClasses == nil {
		opt.FallbackClasses = DefaultFallbackClasses
	}
	if opt.GateThreshold == 0 {
		opt.GateThreshold = DefaultGateThreshold
	}
	if opt.PrimaryThreshold == 0 {
		opt.PrimaryThreshold = DefaultPrimaryThreshold
	}
	if opt.FallbackThreshold == 0 {
		opt.FallbackThreshold = DefaultFallbackThreshold
	}
	if opt.GateAspectRatio == 0 {
		opt.GateAspectRatio = DefaultGateAspectRatio
	}
	if opt.Stats == nil {
		opt.Stats = perfstats.NewStages()
	}

	c := &Classifier{
		log:             logx.NewPrefixLogger(log, "Classify"),
		opt:             opt,
		primaryClasses:  opt.PrimaryLabels.ForModel(opt.PrimaryDetector.Config()),
		fallbackAllowed: map[string]bool{},
	}
	for _, cls := range opt.FallbackClasses {
		c.fallbackAllowed[strings.ToLower(cls)] = true
	}
	if missing := opt.PrimaryLabels.Missing(opt.PrimaryDetector.Config()); len(missing) != 0 {
		c.log.Warnf("Primary model cannot produce these classes: %v", missing)
	}
	return c, nil
}

func (c *Classifier) Stats() *perfstats.Stages {
	return c.opt.Stats
}

func (c *Classifier) Locations() *locations.Config {
	return c.opt.Locations
}

// Result is a Record, plus the details of how we got there
type Result struct {
	Record           Record
	Memo             Memo
	GatePath         GatePath
	GateOutcomes     []capability.Outcome // One per gate region, on the validator path
	OccupierOutcomes []capability.Outcome // One per legal-occupier detection
	PrimaryObjects   []nn.ObjectDetection
	FallbackRan      bool
	FallbackCounts   []LabelCount
}

// ClassifyBytes decodes an image and classifies it.
// If the image can't be decoded, the error wraps imagex.ErrUnreadableImage, and there is no record.
func (c *Classifier) ClassifyBytes(ctx context.Context, imageID string, image []byte) (*Result, error) {
	var frame *imagex.Frame
	var err error
	c.opt.Stats.Time("decode", func() {
		frame, err = imagex.Decode(image)
	})
	if err != nil {
		return nil, fmt.Errorf("%v: %w", imageID, err)
	}
	return c.ClassifyFrame(ctx, imageID, frame)
}

// ClassifyFrame runs all stages on one frame.
// An error is returned only if one of our own detectors fails. External services never cause an error.
func (c *Classifier) ClassifyFrame(ctx context.Context, imageID string, frame *imagex.Frame) (*Result, error) {
	loc := c.opt.Locations.Resolve(imageID)
	res := &Result{}

	start := time.Now()
	gate := c.runGate(ctx, loc, frame)
	c.opt.Stats.AddSample("gate", time.Since(start))
	res.GatePath = gate.Path
	res.GateOutcomes = gate.Outcomes
	res.Memo.HorizontalGate = gate.Count

	start = time.Now()
	primary, err := c.runPrimary(ctx, imageID, frame)
	c.opt.Stats.AddSample("primary", time.Since(start))
	if err != nil {
		return nil, err
	}
	res.Memo.LegalOccupierVehicle = primary.LegalOccupierVehicle
	res.Memo.Train = primary.Train
	res.Memo.Truck = primary.Truck
	res.OccupierOutcomes = primary.OccupierOutcomes
	res.PrimaryObjects = primary.Objects

	fallback := FallbackResult{}
	if c.shouldRunFallback(res.Memo, loc) {
		start = time.Now()
		fallback, err = c.runFallback(ctx, frame, loc)
		c.opt.Stats.AddSample("fallback", time.Since(start))
		if err != nil {
			return nil, err
		}
		res.FallbackRan = true
		res.FallbackCounts = fallback.Counts
	}

	headerText := c.readHeader(frame, loc)

	res.Record = Aggregate(imageID, loc.Key, res.Memo, fallback.Summary)
	res.Record.HeaderText = headerText
	res.Record.ProcessedAt = time.Now().UTC()
	return res, nil
}

func (c *Classifier) shouldRunFallback(memo Memo, loc *locations.Location) bool {
	if c.opt.GeneralDetector == nil || !loc.HasCrossingRegions() {
		return false
	}
	if memo.PrimaryEvidence() {
		return false
	}
	if c.opt.GateSuppressesFallback && memo.HorizontalGate > 0 {
		return false
	}
	return true
}

func (c *Classifier) readHeader(frame *imagex.Frame, loc *locations.Location) string {
	if c.opt.HeaderOCR == nil || len(loc.HeaderCrops) == 0 {
		return ""
	}
	var text string
	var err error
	c.opt.Stats.Time("ocr", func() {
		text, err = c.opt.HeaderOCR.ReadHeader(frame, loc.HeaderCrops[0])
	})
	if err != nil {
		c.log.Warnf("Header OCR failed for %v: %v", loc.Key, err)
		return ""
	}
	return text
}
