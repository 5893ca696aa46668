package capability

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/www"
)

const DefaultGateTimeout = 5 * time.Second

// GateResponse is the JSON body returned by the gate validation service
type GateResponse struct {
	Prediction string   `json:"prediction"`           // eg "Yes - gate is horizontal"
	Confidence *float64 `json:"confidence,omitempty"` // Not all versions of the service send this
}

// Returns true if the prediction is affirmative
func (g *GateResponse) IsAffirmative() bool {
	return strings.Contains(g.Prediction, "Yes")
}

// GateValidator decides whether a cropped gate region shows a lowered (horizontal) gate.
// The response is nil unless the outcome is Evidence or NoEvidence.
type GateValidator interface {
	Validate(ctx context.Context, png []byte) (Outcome, *GateResponse)
}

// HTTPGateValidator posts the crop as a multipart form to the gate validation service
type HTTPGateValidator struct {
	log     logs.Log
	url     string
	timeout time.Duration
}

func NewHTTPGateValidator(log logs.Log, url string, timeout time.Duration) *HTTPGateValidator {
	if timeout <= 0 {
		timeout = DefaultGateTimeout
	}
	return &HTTPGateValidator{
		log:     log,
		url:     url,
		timeout: timeout,
	}
}

func (v *HTTPGateValidator) Validate(ctx context.Context, png []byte) (Outcome, *GateResponse) {
	if v.url == "" {
		return Unavailable, nil
	}
	body, contentType, err := gateForm(png)
	if err != nil {
		v.log.Warnf("Failed to build gate validation request: %v", err)
		return Unavailable, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", v.url, body)
	if err != nil {
		v.log.Warnf("Invalid gate validation request: %v", err)
		return Unavailable, nil
	}
	req.Header.Set("Content-Type", contentType)

	resp := GateResponse{}
	if err := www.FetchJSON(req, &resp); err != nil {
		v.log.Warnf("Gate validation failed: %v", err)
		return Unavailable, nil
	}
	if resp.IsAffirmative() {
		return Evidence, &resp
	}
	return NoEvidence, &resp
}

// Build a multipart body with a single field "file", holding gate.png
func gateForm(png []byte) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="gate.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(png); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("Failed to finish multipart body: %w", err)
	}
	return buf, mw.FormDataContentType(), nil
}
