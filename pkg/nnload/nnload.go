// Package nnload turns a model description from our config file into an nn.ObjectDetector,
// so that callers don't need to know where inference actually happens.
package nnload

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/railalert/pkg/nn"
	"github.com/cyclopcam/railalert/pkg/nnhttp"
)

// ModelSpec describes one detector
type ModelSpec struct {
	Name           string   `json:"name"`           // eg "igct", "coco", "gate"
	URL            string   `json:"url"`            // Base URL of the inference server for this model
	ConfigFile     string   `json:"configFile"`     // Model JSON config, or a .txt/.names file of class names. Relative paths are relative to the model dir.
	ConfigURL      string   `json:"configUrl"`      // If ConfigFile does not exist, download it from here
	Classes        []string `json:"classes"`        // Class names, or the name of a built-in table such as "coco". If specified, ConfigFile is not needed.
	TimeoutSeconds float64  `json:"timeoutSeconds"` // Inference timeout (0 = default)
	Tiled          bool     `json:"tiled"`          // Split images larger than the model input into tiles. Needs width and height in the model config.
	TileThreads    int      `json:"tileThreads"`    // Tiles inferred concurrently (0 = 1)
}

func downloadFile(srcUrl, targetFile string) error {
	tempFile := targetFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(targetFile), 0755); err != nil {
		return err
	}
	resp, err := http.DefaultClient.Get(srcUrl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("HTTP error %v", resp.Status)
	}
	file, err := os.Create(tempFile)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, resp.Body)
	if err != nil {
		return err
	}
	file.Close()
	return os.Rename(tempFile, targetFile)
}

// If the model config file is not yet downloaded, then download it now.
// Returns immediately if the file is already on disk.
func DownloadModelConfig(log logs.Log, configFile, configUrl string) error {
	if _, err := os.Stat(configFile); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if configUrl == "" {
		return fmt.Errorf("Model config %v not found, and no download URL specified", configFile)
	}
	log.Infof("Downloading %v to %v", configUrl, configFile)
	return downloadFile(configUrl, configFile)
}

// LoadModelConfig returns the model config for the spec, downloading it if necessary
func LoadModelConfig(log logs.Log, modelDir string, spec ModelSpec) (*nn.ModelConfig, error) {
	if len(spec.Classes) == 1 {
		// A single entry can name a built-in table, eg "coco"
		if set := nn.ClassSet(spec.Classes[0]); set != nil {
			return &nn.ModelConfig{
				Architecture: spec.Name,
				Classes:      set,
			}, nil
		}
	}
	if len(spec.Classes) != 0 {
		return &nn.ModelConfig{
			Architecture: spec.Name,
			Classes:      spec.Classes,
		}, nil
	}
	if spec.ConfigFile == "" {
		return nil, fmt.Errorf("Model '%v' has neither classes nor a config file", spec.Name)
	}
	configFile := spec.ConfigFile
	if !filepath.IsAbs(configFile) {
		configFile = filepath.Join(modelDir, configFile)
	}
	if err := DownloadModelConfig(log, configFile, spec.ConfigURL); err != nil {
		return nil, fmt.Errorf("Download failed: %w", err)
	}
	var config *nn.ModelConfig
	var err error
	if strings.EqualFold(filepath.Ext(configFile), ".txt") || strings.EqualFold(filepath.Ext(configFile), ".names") {
		// One class name per line
		var classes []string
		classes, err = nn.LoadClassFile(configFile)
		config = &nn.ModelConfig{Architecture: spec.Name, Classes: classes}
	} else {
		config, err = nn.LoadModelConfig(configFile)
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to load model config %v: %w", configFile, err)
	}
	if len(config.Classes) == 0 {
		return nil, fmt.Errorf("Model config %v has no classes", configFile)
	}
	return config, nil
}

// LoadDetector creates a detector for the given model
func LoadDetector(log logs.Log, modelDir string, spec ModelSpec) (nn.ObjectDetector, error) {
	if spec.URL == "" {
		return nil, errors.New("No inference URL for model " + spec.Name)
	}
	config, err := LoadModelConfig(log, modelDir, spec)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(spec.TimeoutSeconds * float64(time.Second))
	log.Infof("Model '%v' (%v classes) served by %v", spec.Name, len(config.Classes), spec.URL)
	var detector nn.ObjectDetector = nnhttp.NewDetector(log, spec.URL, config, timeout)
	if spec.Tiled {
		if config.Width <= 0 || config.Height <= 0 {
			return nil, fmt.Errorf("Model '%v' is tiled, but its input size is unknown", spec.Name)
		}
		detector = nn.NewTiledDetector(detector, spec.TileThreads)
	}
	return detector, nil
}
