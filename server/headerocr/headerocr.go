// Package headerocr reads the text overlay that crossing cameras burn into the top of every frame.
package headerocr

import (
	"bytes"
	"fmt"
	"image"
	"regexp"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/railalert/pkg/imagex"
	"github.com/cyclopcam/railalert/pkg/roi"
	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// Overlay text is small. Tesseract does much better once the strip is at least this tall.
const minHeight = 48

type Options struct {
	Language       string // Tesseract language. "" = eng
	TessdataPrefix string // Directory holding *.traineddata. "" = the system default
	Whitelist      string // If not empty, only these characters are recognized
}

// Reader runs Tesseract on header crops.
// A gosseract client is not safe for concurrent use, so every call gets its own.
type Reader struct {
	log logs.Log
	opt Options
}

func NewReader(log logs.Log, opt Options) *Reader {
	if opt.Language == "" {
		opt.Language = "eng"
	}
	return &Reader{
		log: log,
		opt: opt,
	}
}

// ReadHeader returns the text inside the crop, with runs of whitespace collapsed to a single space
func (r *Reader) ReadHeader(frame *imagex.Frame, crop roi.Region) (string, error) {
	strip, err := frame.Crop(crop.Bounds)
	if err != nil {
		return "", err
	}
	png, err := preprocess(strip.ToImage())
	if err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()
	if r.opt.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(r.opt.TessdataPrefix); err != nil {
			return "", fmt.Errorf("Failed to set tessdata path: %w", err)
		}
	}
	if err := client.SetLanguage(r.opt.Language); err != nil {
		return "", err
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		return "", err
	}
	if r.opt.Whitelist != "" {
		if err := client.SetWhitelist(r.opt.Whitelist); err != nil {
			return "", err
		}
	}
	if err := client.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("Failed to set OCR image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	text = Normalize(text)
	r.log.Debugf("Header text: %v", text)
	return text, nil
}

// Grayscale, and scale small strips up
func preprocess(img image.Image) ([]byte, error) {
	gray := imaging.Grayscale(img)
	if h := gray.Bounds().Dy(); h > 0 && h < minHeight {
		gray = imaging.Resize(gray, 0, minHeight, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Normalize collapses all whitespace runs into single spaces, and trims the ends
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

var timestampFormats = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}`), "2006-01-02 15:04:05"},
	{regexp.MustCompile(`\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2}`), "01/02/2006 15:04:05"},
	{regexp.MustCompile(`\d{2}-\d{2}-\d{4} \d{2}:\d{2}:\d{2}`), "01-02-2006 15:04:05"},
}

// ParseTimestamp finds the first date and time in overlay text.
// Overlay clocks have no zone, so the result is in loc.
func ParseTimestamp(text string, loc *time.Location) (time.Time, bool) {
	for _, f := range timestampFormats {
		m := f.re.FindString(text)
		if m == "" {
			continue
		}
		m = strings.Replace(m, "T", " ", 1)
		t, err := time.ParseInLocation(f.layout, m, loc)
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
