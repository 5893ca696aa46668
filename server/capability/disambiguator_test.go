package capability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type fakeDisambiguator struct {
	reply string
	err   error
	delay time.Duration
}

func (f *fakeDisambiguator) Classify(ctx context.Context, jpeg []byte, instruction string) (string, error) {
	if f.delay != 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

func TestIsVehicle(t *testing.T) {
	log := logs.NewTestingLog(t)
	ctx := context.Background()
	cases := []struct {
		reply  string
		err    error
		expect Outcome
	}{
		{"1", nil, Evidence},
		{" 1\n", nil, Evidence},
		{"Vehicle.", nil, Evidence},
		{"0", nil, NoEvidence},
		{"person", nil, NoEvidence},
		{"I cannot tell", nil, NoEvidence},
		{"", nil, NoEvidence},
		{"1", errors.New("connection refused"), Unavailable},
	}
	for _, c := range cases {
		d := &fakeDisambiguator{reply: c.reply, err: c.err}
		require.Equal(t, c.expect, IsVehicle(ctx, log, d, []byte("jpeg"), time.Second), "reply '%v'", c.reply)
	}
	require.Equal(t, Unavailable, IsVehicle(ctx, log, nil, []byte("jpeg"), time.Second))
}

func TestIsVehicleTimeout(t *testing.T) {
	d := &fakeDisambiguator{reply: "1", delay: time.Hour}
	require.Equal(t, Unavailable, IsVehicle(context.Background(), logs.NewTestingLog(t), d, []byte("jpeg"), 20*time.Millisecond))
}

func TestOpenAIClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		req := map[string]any{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "test-model", req["model"])
		require.EqualValues(t, 0, req["temperature"])
		require.EqualValues(t, 20, req["max_tokens"])
		messages := req["messages"].([]any)
		require.Len(t, messages, 2)
		require.Equal(t, VehicleInstruction, messages[0].(map[string]any)["content"])
		parts := messages[1].(map[string]any)["content"].([]any)
		url := parts[0].(map[string]any)["image_url"].(map[string]any)["url"].(string)
		require.Equal(t, "data:image/jpeg;base64,anBlZw==", url)
		w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": " 1 "}}]}`))
	}))
	defer server.Close()

	c := NewOpenAIClient(server.URL+"/v1/", "secret", "test-model")
	reply, err := c.Classify(context.Background(), []byte("jpeg"), VehicleInstruction)
	require.NoError(t, err)
	require.Equal(t, "1", reply)
	require.Equal(t, Evidence, IsVehicle(context.Background(), logs.NewTestingLog(t), c, []byte("jpeg"), time.Second))
}

func TestOpenAIClientErrors(t *testing.T) {
	body := `{"choices": []}`
	status := 200
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer server.Close()

	c := NewOpenAIClient(server.URL, "", "")
	require.Equal(t, DefaultOpenAIModel, c.Model)
	_, err := c.Classify(context.Background(), []byte("jpeg"), VehicleInstruction)
	require.Error(t, err)

	status = 429
	body = `{"error": "rate limited"}`
	_, err = c.Classify(context.Background(), []byte("jpeg"), VehicleInstruction)
	require.Error(t, err)
	require.Equal(t, Unavailable, IsVehicle(context.Background(), logs.NewTestingLog(t), c, []byte("jpeg"), time.Second))
}

func TestGeminiClientRequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), "", "")
	require.Error(t, err)
}
