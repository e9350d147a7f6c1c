// Package relay implements the stage handler contract over HTTP: each stage's
// actual content work lives in an external service, and the relay POSTs the
// job context to it and maps the reply back into a stage result.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"pressroom/internal/pipeline"
)

// request is the JSON body posted to a stage endpoint.
type request struct {
	JobID   string          `json:"job_id"`
	JobType string          `json:"job_type"`
	Stage   string          `json:"stage"`
	Attempt int             `json:"attempt"`
	Payload json.RawMessage `json:"payload"`
}

// response is the JSON body a stage endpoint replies with.
type response struct {
	Complete bool   `json:"complete"`
	Error    string `json:"error"`
}

// Handler relays stage execution to an external worker service. It implements
// pipeline.Handler; one instance serves one stage at baseURL/<stage>.
type Handler struct {
	baseURL string
	stage   string
	client  *http.Client
}

// New builds a relay handler for a stage. Timeout bounds the whole exchange;
// zero means no client-side limit beyond the request context.
func New(baseURL, stage string, timeout time.Duration) (*Handler, error) {
	if baseURL == "" {
		return nil, errors.New("handler base url is required")
	}
	if stage == "" {
		return nil, errors.New("stage is required")
	}
	return &Handler{
		baseURL: baseURL,
		stage:   stage,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Execute posts the job context to the stage endpoint and interprets the
// reply. Any non-2xx status or a reply carrying an error string counts as a
// stage failure and consumes an attempt.
func (h *Handler) Execute(ctx context.Context, jc *pipeline.JobContext) (pipeline.Result, error) {
	body, err := json.Marshal(request{
		JobID:   jc.JobID,
		JobType: jc.JobType,
		Stage:   jc.Stage,
		Attempt: jc.Attempt,
		Payload: jc.Payload,
	})
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("encode stage request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/"+h.stage, bytes.NewReader(body))
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("build stage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("call stage %s: %w", h.stage, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("read stage response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return pipeline.Result{}, fmt.Errorf("stage %s returned %d: %s", h.stage, resp.StatusCode, truncate(raw, 200))
	}

	var reply response
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &reply); err != nil {
			return pipeline.Result{}, fmt.Errorf("decode stage response: %w", err)
		}
	}
	if reply.Error != "" {
		return pipeline.Result{}, fmt.Errorf("stage %s failed: %s", h.stage, reply.Error)
	}
	return pipeline.Result{Complete: reply.Complete}, nil
}

// HealthCheck probes the worker's health endpoint.
func (h *Handler) HealthCheck(ctx context.Context) pipeline.Health {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/health", nil)
	if err != nil {
		return pipeline.Unhealthy(h.stage, err.Error())
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return pipeline.Unhealthy(h.stage, err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return pipeline.Unhealthy(h.stage, fmt.Sprintf("health returned %d", resp.StatusCode))
	}
	return pipeline.Healthy(h.stage)
}

func truncate(raw []byte, max int) string {
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
