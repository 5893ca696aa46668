// Package nnhttp is an nn.ObjectDetector that runs inference on a remote server.
//
// The server receives a JPEG in the body of "POST <url>/detect?conf=<threshold>&iou=<threshold>"
// and responds with
//
//	{"detections": [{"class": 7, "confidence": 0.91, "box": [cx, cy, width, height]}, ...]}
//
// Boxes are in the pixel coordinates of the image that was sent.
package nnhttp

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/railalert/pkg/nn"
	"github.com/cyclopcam/www"
)

const DefaultTimeout = 30 * time.Second

type detection struct {
	Class      int        `json:"class"`
	Confidence float32    `json:"confidence"`
	Box        [4]float32 `json:"box"` // center x, center y, width, height
}

type detectResponse struct {
	Detections []detection `json:"detections"`
}

// Detector sends images to an inference server
type Detector struct {
	log     logs.Log
	baseUrl string
	config  *nn.ModelConfig
	timeout time.Duration
}

func NewDetector(log logs.Log, baseUrl string, config *nn.ModelConfig, timeout time.Duration) *Detector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Detector{
		log:     log,
		baseUrl: strings.TrimSuffix(baseUrl, "/"),
		config:  config,
		timeout: timeout,
	}
}

func (d *Detector) Close() {
}

func (d *Detector) Config() *nn.ModelConfig {
	return d.config
}

func (d *Detector) DetectObjects(img nn.ImageCrop, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	if params == nil {
		params = nn.NewDetectionParams()
	}
	if img.NChan != 3 {
		return nil, fmt.Errorf("Expected 3 channel image, but got %v", img.NChan)
	}
	jpg, err := encodeCrop(img)
	if err != nil {
		return nil, err
	}

	threshold := params.ProbabilityThreshold
	if threshold == 0 {
		threshold = nn.DefaultProbabilityThreshold
	}
	iou := params.NmsIouThreshold
	if iou == 0 {
		iou = nn.DefaultNmsIouThreshold
	}
	query := url.Values{}
	query.Set("conf", strconv.FormatFloat(float64(threshold), 'f', -1, 32))
	query.Set("iou", strconv.FormatFloat(float64(iou), 'f', -1, 32))

	ctx, cancel := context.WithTimeout(params.Ctx(), d.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", d.baseUrl+"/detect?"+query.Encode(), bytes.NewReader(jpg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp := detectResponse{}
	if err := www.FetchJSON(req, &resp); err != nil {
		return nil, fmt.Errorf("Inference request to %v failed: %w", d.baseUrl, err)
	}

	objects := make([]nn.ObjectDetection, 0, len(resp.Detections))
	for _, det := range resp.Detections {
		if det.Confidence < threshold {
			continue
		}
		box := nn.RectFromCenter(det.Box[0], det.Box[1], det.Box[2], det.Box[3])
		box.Offset(img.CropX, img.CropY)
		objects = append(objects, nn.ObjectDetection{
			Class:      det.Class,
			Confidence: det.Confidence,
			Box:        box,
			RawWidth:   det.Box[2],
			RawHeight:  det.Box[3],
		})
	}
	d.log.Debugf("%v: %v objects", d.baseUrl, len(objects))
	return objects, nil
}

func encodeCrop(img nn.ImageCrop) ([]byte, error) {
	whole := cimg.WrapImage(img.ImageWidth, img.ImageHeight, cimg.PixelFormatRGB, img.Pixels)
	src := whole
	if !img.IsWholeImage() {
		src = cimg.NewImage(img.CropWidth, img.CropHeight, cimg.PixelFormatRGB)
		src.CopyImageRect(whole, img.CropX, img.CropY, img.CropX+img.CropWidth, img.CropY+img.CropHeight, 0, 0)
	}
	b, err := cimg.Compress(src, cimg.MakeCompressParams(cimg.Sampling420, 95, 0))
	if err != nil {
		return nil, fmt.Errorf("Failed to compress image for inference: %w", err)
	}
	return b, nil
}
