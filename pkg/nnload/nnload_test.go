package nnload

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/railalert/pkg/nn"
	"github.com/stretchr/testify/require"
)

func TestLoadModelConfigInline(t *testing.T) {
	config, err := LoadModelConfig(logs.NewTestingLog(t), "", ModelSpec{Name: "igct", Classes: []string{"legal_occupier_vehicle", "train", "truck"}})
	require.NoError(t, err)
	require.Equal(t, "train", config.ClassName(1))
}

func TestLoadModelConfigDownload(t *testing.T) {
	nDownloads := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nDownloads++
		w.Write([]byte(`{"architecture": "yolov8", "width": 640, "height": 640, "classes": ["gate"]}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	spec := ModelSpec{Name: "gate", URL: "http://localhost:1", ConfigFile: "gate/gate.json", ConfigURL: server.URL + "/gate.json"}
	config, err := LoadModelConfig(logs.NewTestingLog(t), dir, spec)
	require.NoError(t, err)
	require.Equal(t, []string{"gate"}, config.Classes)
	require.Equal(t, 640, config.Width)
	_, err = os.Stat(filepath.Join(dir, "gate/gate.json"))
	require.NoError(t, err)

	// Second load comes from disk
	det, err := LoadDetector(logs.NewTestingLog(t), dir, spec)
	require.NoError(t, err)
	require.Equal(t, "gate", det.Config().ClassName(0))
	require.Equal(t, 1, nDownloads)
}

func TestLoadDetectorErrors(t *testing.T) {
	_, err := LoadDetector(logs.NewTestingLog(t), "", ModelSpec{Name: "x", Classes: []string{"a"}})
	require.Error(t, err)
	_, err = LoadModelConfig(logs.NewTestingLog(t), t.TempDir(), ModelSpec{Name: "x", ConfigFile: "missing.json"})
	require.Error(t, err)
	_, err = LoadModelConfig(logs.NewTestingLog(t), "", ModelSpec{Name: "x"})
	require.Error(t, err)
}

func TestLoadModelConfigClassFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "coco.names"), []byte("person\nbicycle\n\ncar\n"), 0644))
	config, err := LoadModelConfig(logs.NewTestingLog(t), dir, ModelSpec{Name: "coco", ConfigFile: "coco.names"})
	require.NoError(t, err)
	require.Equal(t, []string{"person", "bicycle", "car"}, config.Classes)
	require.Equal(t, "coco", config.Architecture)
}

func TestLoadTiledDetector(t *testing.T) {
	spec := ModelSpec{Name: "coco", URL: "http://localhost:1", Classes: []string{"person"}, Tiled: true}
	_, err := LoadDetector(logs.NewTestingLog(t), "", spec)
	require.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "coco.json"), []byte(`{"width": 320, "height": 256, "classes": ["person"]}`), 0644))
	spec.Classes = nil
	spec.ConfigFile = "coco.json"
	spec.TileThreads = 2
	det, err := LoadDetector(logs.NewTestingLog(t), dir, spec)
	require.NoError(t, err)
	_, isTiled := det.(*nn.TiledDetector)
	require.True(t, isTiled)
	require.Equal(t, 320, det.Config().Width)
}

func TestLoadModelConfigClassSet(t *testing.T) {
	config, err := LoadModelConfig(logs.NewTestingLog(t), "", ModelSpec{Name: "general", Classes: []string{"COCO"}})
	require.NoError(t, err)
	require.Len(t, config.Classes, 80)
	require.Equal(t, "truck", config.ClassName(nn.COCOTruck))

	// A single class that is not a table name is just a class
	config, err = LoadModelConfig(logs.NewTestingLog(t), "", ModelSpec{Name: "gate", Classes: []string{"gate"}})
	require.NoError(t, err)
	require.Equal(t, []string{"gate"}, config.Classes)
}
