package optimd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/adaptive-imaging/optim-core/internal/session"
	"github.com/adaptive-imaging/optim-core/internal/space"
)

// HTTPMeasurer is the daemon's instrument boundary: it posts the sampled
// action to an acquisition endpoint and reads back the per-objective scores.
// The endpoint owns hardware control and objective evaluation.
type HTTPMeasurer struct {
	url   string
	names []string
	http  *http.Client
}

// NewHTTPMeasurer creates a measurer posting to the given URL. Parameter
// names accompany each action so the endpoint can map values positionally.
func NewHTTPMeasurer(url string, parameterNames []string) *HTTPMeasurer {
	return &HTTPMeasurer{
		url:   url,
		names: parameterNames,
		// Per-measurement deadlines come from the session's context.
		http: &http.Client{},
	}
}

type measureRequest struct {
	Parameters []string  `json:"parameters"`
	Action     []float64 `json:"action"`
}

type measureResponse struct {
	Scores    map[string]float64 `json:"scores"`
	ElapsedMs int64              `json:"elapsed_ms"`
	Artifact  string             `json:"artifact_b64,omitempty"`
}

// Measure implements session.Measurer.
func (m *HTTPMeasurer) Measure(ctx context.Context, action space.Action) (session.Measurement, error) {
	body, err := json.Marshal(measureRequest{Parameters: m.names, Action: action})
	if err != nil {
		return session.Measurement{}, fmt.Errorf("encode measure request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return session.Measurement{}, fmt.Errorf("build measure request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return session.Measurement{}, fmt.Errorf("measure request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return session.Measurement{}, fmt.Errorf("measure endpoint returned status %d", resp.StatusCode)
	}

	var out measureResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return session.Measurement{}, fmt.Errorf("decode measure response: %w", err)
	}

	meas := session.Measurement{
		Scores:  out.Scores,
		Elapsed: time.Duration(out.ElapsedMs) * time.Millisecond,
	}
	if out.Artifact != "" {
		data, err := base64.StdEncoding.DecodeString(out.Artifact)
		if err != nil {
			return session.Measurement{}, fmt.Errorf("decode measure artifact: %w", err)
		}
		meas.Artifact = data
	}
	return meas, nil
}
