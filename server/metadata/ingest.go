package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/logs"
)

// IngestResult is what Ingest produced
type IngestResult struct {
	Table  *Table
	Alerts int // Alert files that yielded at least one image
	Images int
}

var alertExtensions = map[string]bool{".html": true, ".htm": true, ".eml": true, ".txt": true}

func newIngestResult(imageDir string) (*IngestResult, error) {
	if err := os.MkdirAll(imageDir, 0777); err != nil {
		return nil, err
	}
	table, err := NewTable(Columns)
	if err != nil {
		return nil, err
	}
	return &IngestResult{Table: table}, nil
}

// Ingest reads every alert body in srcDir (html, eml, or txt), writes its inline images into
// imageDir under ImageName, and returns the metadata table describing them.
// Files without images are logged and skipped.
func Ingest(log logs.Log, srcDir, imageDir string) (*IngestResult, error) {
	res, err := newIngestResult(imageDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !alertExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		if err := res.ingestFile(log, filepath.Join(srcDir, e.Name()), Alert{}, imageDir); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// IngestAlerts is Ingest driven by an alerts file (see LoadAlerts) instead of a directory listing.
// Each alert's ImagePath names its email body, relative to the alerts file. Fields that the
// alert leaves empty are parsed from the body.
func IngestAlerts(log logs.Log, alertsFile, imageDir string) (*IngestResult, error) {
	alerts, err := LoadAlerts(alertsFile)
	if err != nil {
		return nil, err
	}
	res, err := newIngestResult(imageDir)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(alertsFile)
	for i, alert := range alerts {
		if alert.ImagePath == "" {
			log.Warnf("Alert %v has no imagePath", i)
			continue
		}
		body := alert.ImagePath
		if !filepath.IsAbs(body) {
			body = filepath.Join(base, body)
		}
		if err := res.ingestFile(log, body, alert, imageDir); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Only a failure to write an image is returned. Unreadable or imageless bodies are logged and skipped.
func (res *IngestResult) ingestFile(log logs.Log, filename string, known Alert, imageDir string) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		log.Warnf("Failed to read %v: %v", filename, err)
		return nil
	}
	body := string(raw)
	alert := mergeAlert(known, ParseAlertText(body))
	images := ExtractInlineImages(body)
	if len(images) == 0 {
		log.Warnf("No images found in %v", filename)
		return nil
	}
	source := alert.OriginalFilename
	if source == "" {
		source = filepath.Base(filename)
	}
	location := strings.ReplaceAll(strings.ToLower(alert.Location), " ", "_")
	direction := strings.ToLower(alert.Direction)
	for idx, img := range images {
		name := ImageName(alert.Location, alert.Direction, idx)
		if err := os.WriteFile(filepath.Join(imageDir, name), img, 0666); err != nil {
			return fmt.Errorf("Failed to write %v: %w", name, err)
		}
		res.Table.Add(name, location, direction, alert.Timestamp, source)
		res.Images++
	}
	res.Alerts++
	log.Infof("Extracted %v images from %v", len(images), filepath.Base(filename))
	return nil
}

// Fields of 'known' win, unless they are empty
func mergeAlert(known, parsed Alert) Alert {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	parsed.Timestamp = pick(known.Timestamp, parsed.Timestamp)
	parsed.Location = pick(known.Location, parsed.Location)
	parsed.Direction = pick(known.Direction, parsed.Direction)
	parsed.MsgID = pick(known.MsgID, parsed.MsgID)
	parsed.OriginalFilename = pick(known.OriginalFilename, parsed.OriginalFilename)
	return parsed
}
