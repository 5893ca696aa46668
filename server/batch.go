package server

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cyclopcam/railalert/server/classify"
	"github.com/cyclopcam/railalert/server/export"
	"github.com/cyclopcam/railalert/server/metadata"
)

// BatchReport describes one batch run
type BatchReport struct {
	Summary    classify.BatchSummary
	Records    []classify.Record
	ResultsCSV string
	ResultsXLS string
}

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}

// List the images in dir, sorted by name
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// RunBatch classifies every image of the metadata table (or every image in the image
// directory, if there is no metadata), stores and publishes the records, and writes the
// results table as CSV and XLSX. Images that can't be classified are skipped.
func (s *Server) RunBatch(ctx context.Context) (*BatchReport, error) {
	cfg := s.Config
	var meta *metadata.Table
	var images []string
	if _, err := os.Stat(cfg.MetadataCSV); err == nil {
		if meta, err = metadata.ReadCSVFile(cfg.MetadataCSV); err != nil {
			return nil, err
		}
		images = meta.Images()
		s.Log.Infof("Classifying %v images listed in %v", len(images), cfg.MetadataCSV)
	} else {
		if images, err = listImages(cfg.ImageDir); err != nil {
			return nil, err
		}
		s.Log.Infof("No metadata at %v. Classifying all %v images in %v", cfg.MetadataCSV, len(images), cfg.ImageDir)
	}

	inputs := make([]classify.Input, len(images))
	for i, img := range images {
		inputs[i] = classify.FileInput(cfg.ImageDir, img)
	}

	report := &BatchReport{}
	report.Summary = s.Classifier.RunBatch(ctx, inputs, cfg.Workers, func(item classify.BatchItem) {
		if item.Err != nil {
			return
		}
		report.Records = append(report.Records, item.Result.Record)
		s.publish(item.Result.Record)
	})

	// One transaction for the whole batch
	if s.Records != nil && len(report.Records) != 0 {
		if err := s.Records.SaveMany(report.Records); err != nil {
			s.Log.Errorf("Failed to save %v records: %v", len(report.Records), err)
		}
	}

	if cfg.ResultsCSV != "" {
		results := export.Join(meta, report.Records)
		if err := os.MkdirAll(filepath.Dir(cfg.ResultsCSV), 0777); err != nil {
			return report, err
		}
		report.ResultsCSV = cfg.ResultsCSV
		report.ResultsXLS = strings.TrimSuffix(cfg.ResultsCSV, filepath.Ext(cfg.ResultsCSV)) + ".xlsx"
		if err := results.WriteCSVFile(report.ResultsCSV); err != nil {
			return report, err
		}
		if err := results.WriteXLSXFile(report.ResultsXLS); err != nil {
			return report, err
		}
		s.Log.Infof("Results: %v, %v (%v rows)", report.ResultsCSV, report.ResultsXLS, len(results.Rows))
	}
	return report, nil
}
