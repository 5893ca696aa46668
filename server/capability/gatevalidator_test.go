package capability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestGateValidator(t *testing.T) {
	reply := `{"prediction": "Yes", "confidence": 0.8}`
	status := 200
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		require.Equal(t, "gate.png", header.Filename)
		require.Equal(t, "image/png", header.Header.Get("Content-Type"))
		b, _ := io.ReadAll(file)
		require.Equal(t, "fake png", string(b))
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}))
	defer server.Close()

	v := NewHTTPGateValidator(logs.NewTestingLog(t), server.URL, time.Second)
	ctx := context.Background()

	outcome, resp := v.Validate(ctx, []byte("fake png"))
	require.Equal(t, Evidence, outcome)
	require.Equal(t, "Yes", resp.Prediction)
	require.InDelta(t, 0.8, *resp.Confidence, 1e-9)

	reply = `{"prediction": "No"}`
	outcome, resp = v.Validate(ctx, []byte("fake png"))
	require.Equal(t, NoEvidence, outcome)
	require.Nil(t, resp.Confidence)

	reply = `not json`
	outcome, resp = v.Validate(ctx, []byte("fake png"))
	require.Equal(t, Unavailable, outcome)
	require.Nil(t, resp)

	reply = `{"prediction": "Yes"}`
	status = 500
	outcome, _ = v.Validate(ctx, []byte("fake png"))
	require.Equal(t, Unavailable, outcome)
}

func TestGateValidatorTimeout(t *testing.T) {
	release := make(chan bool)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	v := NewHTTPGateValidator(logs.NewTestingLog(t), server.URL, 50*time.Millisecond)
	start := time.Now()
	outcome, resp := v.Validate(context.Background(), []byte("x"))
	require.Equal(t, Unavailable, outcome)
	require.Nil(t, resp)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestGateValidatorNoURL(t *testing.T) {
	v := NewHTTPGateValidator(logs.NewTestingLog(t), "", 0)
	outcome, _ := v.Validate(context.Background(), []byte("x"))
	require.Equal(t, Unavailable, outcome)
	require.Equal(t, "unavailable", outcome.String())
	require.False(t, outcome.IsEvidence())
}
