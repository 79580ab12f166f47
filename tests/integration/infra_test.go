package integration

import (
	"net/http"
	"testing"
)

type failoverActiveResponse struct {
	DeviceID string `json:"device_id"`
	Found    bool   `json:"found"`
}

type jobqueueEnqueueResponse struct {
	Job struct {
		ID     string `json:"id"`
		Band   string `json:"band"`
		Status string `json:"status"`
	} `json:"job"`
}

type jobqueueDepthResponse struct {
	Depth map[string]int `json:"depth"`
}

type registryHealthResponse struct {
	Components []any `json:"components"`
}

func TestFailoverRegisterAndActiveLookup(t *testing.T) {
	requireService(t)

	status, _ := doJSON(t, http.MethodPost, "/failover/register", map[string]any{
		"device": map[string]any{"id": "itest-dev-1", "group": "itest-group", "priority": 1, "health_score": 1.0},
	})
	assertStatusIn(t, status, 200)

	status, body := doJSON(t, http.MethodGet, "/failover/active/itest-group", nil)
	assertStatusIn(t, status, 200)

	var resp failoverActiveResponse
	mustUnmarshalJSON(t, body, &resp)
	if !resp.Found || resp.DeviceID != "itest-dev-1" {
		t.Fatalf("expected itest-dev-1 active, got %+v", resp)
	}
}

func TestJobQueueEnqueueAndDepth(t *testing.T) {
	requireService(t)

	status, body := doJSON(t, http.MethodPost, "/jobqueue/enqueue", map[string]any{
		"band":    "normal",
		"payload": []byte("itest"),
	})
	assertStatusIn(t, status, 200)

	var enq jobqueueEnqueueResponse
	mustUnmarshalJSON(t, body, &enq)
	if enq.Job.ID == "" {
		t.Fatalf("expected job id to be set")
	}

	status, body = doJSON(t, http.MethodGet, "/jobqueue/depth", nil)
	assertStatusIn(t, status, 200)

	var depth jobqueueDepthResponse
	mustUnmarshalJSON(t, body, &depth)
	if depth.Depth == nil {
		t.Fatalf("expected depth map to be present")
	}
}

func TestRegistryHealth(t *testing.T) {
	requireService(t)

	status, body := doJSON(t, http.MethodGet, "/registry/health", nil)
	assertStatusIn(t, status, 200)

	var resp registryHealthResponse
	mustUnmarshalJSON(t, body, &resp)
	_ = resp.Components
}
