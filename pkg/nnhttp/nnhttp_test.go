package nnhttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/railalert/pkg/nn"
	"github.com/stretchr/testify/require"
)

func TestDetector(t *testing.T) {
	var gotConf string
	var gotType string
	var gotBody int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/detect", r.URL.Path)
		gotConf = r.URL.Query().Get("conf")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = len(b)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detections": [
			{"class": 6, "confidence": 0.9, "box": [20, 10, 10, 6]},
			{"class": 7, "confidence": 0.1, "box": [5, 5, 2, 2]}
		]}`))
	}))
	defer server.Close()

	config := &nn.ModelConfig{Architecture: "yolov8", Width: 640, Height: 640, Classes: nn.COCOClasses}
	det := NewDetector(logs.NewTestingLog(t), server.URL+"/", config, time.Second)
	defer det.Close()
	require.Equal(t, "train", det.Config().ClassName(6))

	pixels := make([]byte, 64*48*3)
	img := nn.WholeImage(3, pixels, 64, 48)

	objects, err := det.DetectObjects(img, nn.NewDetectionParamsWithThreshold(0.25))
	require.NoError(t, err)
	require.Equal(t, "0.25", gotConf)
	require.Equal(t, "image/jpeg", gotType)
	require.Greater(t, gotBody, 0)
	// The low confidence object is dropped, even if the server sends it
	require.Len(t, objects, 1)
	require.Equal(t, 6, objects[0].Class)
	require.Equal(t, nn.Rect{X: 15, Y: 7, Width: 10, Height: 6}, objects[0].Box)
	require.Equal(t, float32(10), objects[0].RawWidth)
	require.Equal(t, float32(6), objects[0].RawHeight)

	// Boxes from a crop are returned in whole-image coordinates
	objects, err = det.DetectObjects(img.Crop(10, 20, 50, 40), nn.NewDetectionParamsWithThreshold(0.25))
	require.NoError(t, err)
	require.Len(t, objects, 1)
	require.Equal(t, nn.Rect{X: 25, Y: 27, Width: 10, Height: 6}, objects[0].Box)
}

func TestDetectorServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	det := NewDetector(logs.NewTestingLog(t), server.URL, &nn.ModelConfig{}, time.Second)
	_, err := det.DetectObjects(nn.WholeImage(3, make([]byte, 8*8*3), 8, 8), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestDetectorKeepsRawSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"detections": [{"class": 0, "confidence": 0.9, "box": [100, 100, 30.4, 20]}]}`))
	}))
	defer server.Close()

	det := NewDetector(logs.NewTestingLog(t), server.URL, &nn.ModelConfig{Classes: []string{"gate"}}, time.Second)
	objects, err := det.DetectObjects(nn.WholeImage(3, make([]byte, 200*200*3), 200, 200), nn.NewDetectionParamsWithThreshold(0.25))
	require.NoError(t, err)
	require.Len(t, objects, 1)
	require.Equal(t, 30, objects[0].Box.Width)
	require.Equal(t, float32(1.5), objects[0].Box.AspectRatio())
	require.InDelta(t, 1.52, objects[0].AspectRatio(), 0.001)
}

func TestDetectorCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	det := NewDetector(logs.NewTestingLog(t), server.URL, &nn.ModelConfig{}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := det.DetectObjects(nn.WholeImage(3, make([]byte, 8*8*3), 8, 8), nn.NewDetectionParamsWithContext(ctx, 0.5))
	require.Error(t, err)
	require.Less(t, time.Since(start), 10*time.Second)
}
