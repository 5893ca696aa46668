// Package metadata turns alert emails into the image directory and metadata table that a batch run consumes.
package metadata

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cyclopcam/railalert/pkg/imagex"
)

// Value of any alert field that the email did not contain
const Unknown = "UNKNOWN"

const (
	timePrefix      = "Time of detection:"
	locationPrefix  = "Location:"
	directionPrefix = "Direction:"
)

// Inline image payloads smaller than this are logos and signatures, not camera frames
const minInlineImageChars = 10000

// Alert is one alert email
type Alert struct {
	Timestamp        string `json:"timestamp"`
	Location         string `json:"location"`
	Direction        string `json:"direction"`
	RawText          string `json:"rawText"`
	ImagePath        string `json:"imagePath"`
	MsgID            string `json:"msgId"`
	OriginalFilename string `json:"originalFilename"`
}

// ParseAlertText reads the labelled lines out of an alert email body:
//
//	Time of detection: 2024-05-01 10:11
//	Location: Main St
//	Direction: E
//
// Missing fields are Unknown.
func ParseAlertText(text string) Alert {
	return Alert{
		Timestamp: extractAfter(text, timePrefix),
		Location:  extractAfter(text, locationPrefix),
		Direction: extractAfter(text, directionPrefix),
		RawText:   text,
	}
}

func extractAfter(text, prefix string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):])
		}
	}
	return Unknown
}

// LoadAlerts reads a JSON array of alerts
func LoadAlerts(filename string) ([]Alert, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	alerts := []Alert{}
	if err := json.Unmarshal(raw, &alerts); err != nil {
		return nil, fmt.Errorf("Invalid alerts file %v: %w", filename, err)
	}
	return alerts, nil
}

// ImageName is the name under which the idx'th image of an alert is stored.
// The location key of the result is "<location>_<direction>".
func ImageName(location, direction string, idx int) string {
	location = strings.ReplaceAll(strings.ToLower(location), " ", "_")
	direction = strings.ToLower(direction)
	return fmt.Sprintf("%v_%v_%v.jpg", location, direction, idx)
}

// ExtractInlineImages finds the base64 data URIs embedded in an HTML email body, and returns
// the ones that decode to images. Mail clients often mangle the src attribute around these,
// so we look at every quoted chunk rather than parsing the HTML.
func ExtractInlineImages(html string) [][]byte {
	images := [][]byte{}
	for _, chunk := range strings.Split(html, `"`) {
		if len(chunk) <= minInlineImageChars || !strings.Contains(chunk, "base64") {
			continue
		}
		comma := strings.IndexByte(chunk, ',')
		if comma < 0 {
			continue
		}
		payload := strings.Map(func(r rune) rune {
			if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, chunk[comma+1:])
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			continue
		}
		if _, err := imagex.Decode(raw); err != nil {
			continue
		}
		images = append(images, raw)
	}
	return images
}
