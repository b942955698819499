package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// client is a thin HTTP+JSON wrapper around a running scheduler's wire
// API, mirroring how the rest of the example pack's CLIs talk to their
// own services over a bare net/http client rather than a generated SDK.
type client struct {
	addr string
	http *http.Client
}

func newClient(addr string) *client {
	return &client{addr: addr, http: &http.Client{Timeout: 15 * time.Second}}
}

type mutateRequest struct {
	Action    string   `json:"action"`
	ID        string   `json:"id,omitempty"`
	IDs       []string `json:"ids,omitempty"`
	Name      string   `json:"name,omitempty"`
	Point     string   `json:"point,omitempty"`
	Stop      string   `json:"stop,omitempty"`
	ResetKind string   `json:"reset_kind,omitempty"`
	Outputs   []string `json:"outputs,omitempty"`
	Flow      *int     `json:"flow,omitempty"`
	Mode      string   `json:"mode,omitempty"`
}

type mutateResponse struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

type taskSummary struct {
	ID                string `json:"ID"`
	Name              string `json:"Name"`
	Point             string `json:"Point"`
	State             string `json:"State"`
	NTotalOutputs     int    `json:"NTotalOutputs"`
	NCompletedOutputs int    `json:"NCompletedOutputs"`
	Spawned           bool   `json:"Spawned"`
	LatestMessage     string `json:"LatestMessage"`
}

type statusResponse struct {
	WorkflowDirty bool          `json:"workflow_dirty"`
	Tasks         []taskSummary `json:"tasks"`
}

// mutate posts req to /v1/mutate and reports whether the engine applied
// it, along with the HTTP status code the server returned — callers use
// the status code (404 for TaskNotFound, per the server's statusFor) to
// distinguish "no matching task" from any other engine rejection. A
// non-nil error means the request never reached the server, or its
// response could not be decoded.
func (c *client) mutate(ctx context.Context, req mutateRequest) (mutateResponse, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return mutateResponse{}, 0, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.addr+"/v1/mutate", bytes.NewReader(body))
	if err != nil {
		return mutateResponse{}, 0, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return mutateResponse{}, 0, fmt.Errorf("call scheduler at %s: %w", c.addr, err)
	}
	defer resp.Body.Close()

	var out mutateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return mutateResponse{}, resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return out, resp.StatusCode, nil
}

// status fetches the current task summaries from /v1/status.
func (c *client) status(ctx context.Context) (statusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.addr+"/v1/status", nil)
	if err != nil {
		return statusResponse{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return statusResponse{}, fmt.Errorf("call scheduler at %s: %w", c.addr, err)
	}
	defer resp.Body.Close()

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return statusResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
