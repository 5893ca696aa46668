package classify

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/railalert/pkg/imagex"
	"github.com/cyclopcam/railalert/pkg/nn"
	"github.com/cyclopcam/railalert/pkg/roi"
	"github.com/cyclopcam/railalert/server/capability"
	"github.com/stretchr/testify/require"
)

var primaryModelClasses = []string{"legal_occupier_vehicle", "train", "truck", "person"}

const (
	primaryOccupier = 0
	primaryTrain    = 1
	primaryTruck    = 2
	primaryPerson   = 3
)

// fakeDetector returns a fixed set of objects, filtered by the requested threshold
type fakeDetector struct {
	config  *nn.ModelConfig
	objects []nn.ObjectDetection
	err     error

	lock       sync.Mutex
	calls      int
	thresholds []float32
}

func newFakeDetector(classes []string, objects ...nn.ObjectDetection) *fakeDetector {
	return &fakeDetector{
		config:  &nn.ModelConfig{Architecture: "fake", Width: 640, Height: 480, Classes: classes},
		objects: objects,
	}
}

func (f *fakeDetector) Close() {}

func (f *fakeDetector) Config() *nn.ModelConfig {
	return f.config
}

func (f *fakeDetector) DetectObjects(img nn.ImageCrop, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	f.lock.Lock()
	f.calls++
	f.thresholds = append(f.thresholds, params.ProbabilityThreshold)
	f.lock.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := []nn.ObjectDetection{}
	for _, obj := range f.objects {
		if obj.Confidence >= params.ProbabilityThreshold {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (f *fakeDetector) numCalls() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls
}

func det(class int, confidence float32, x1, y1, x2, y2 int) nn.ObjectDetection {
	return nn.ObjectDetection{
		Class:      class,
		Confidence: confidence,
		Box:        nn.RectFromXYXY(x1, y1, x2, y2),
	}
}

type fakeValidator struct {
	outcomes []capability.Outcome
	lock     sync.Mutex
	calls    int
}

func (f *fakeValidator) Validate(ctx context.Context, png []byte) (capability.Outcome, *capability.GateResponse) {
	f.lock.Lock()
	defer f.lock.Unlock()
	o := f.outcomes[f.calls%len(f.outcomes)]
	f.calls++
	if o == capability.Unavailable {
		return o, nil
	}
	resp := &capability.GateResponse{Prediction: "No"}
	if o == capability.Evidence {
		resp.Prediction = "Yes"
	}
	return o, resp
}

type fakeDisambiguator struct {
	reply string
	err   error
	delay time.Duration
}

func (f *fakeDisambiguator) Classify(ctx context.Context, jpeg []byte, instruction string) (string, error) {
	if f.delay != 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

type fakeHeaderReader struct {
	text string
	err  error
}

func (f *fakeHeaderReader) ReadHeader(frame *imagex.Frame, crop roi.Region) (string, error) {
	return f.text, f.err
}

var errFake = errors.New("fake failure")

func testFrame() *imagex.Frame {
	return imagex.NewFrame(640, 480)
}

func testPNG(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 640, 480))))
	return buf.Bytes()
}
