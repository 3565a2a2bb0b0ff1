package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/seantiz/gridrelay/internal/task"
)

func TestHealthzEndpoint(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if len(body.TaskTypes) != 1 || body.TaskTypes[0] != task.PiTaskType {
		t.Errorf("task_types = %v, want [%s]", body.TaskTypes, task.PiTaskType)
	}
	if body.Published != "" {
		t.Errorf("published = %q before any publish", body.Published)
	}
}

func TestHealthzReportsPublishedTask(t *testing.T) {
	srv := newTestServer(t)
	d, err := srv.Publish(task.Descriptor{Type: task.PiTaskType, Version: 1, Input: json.RawMessage(`{"trials":10}`)}, false)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Published != d.Signature {
		t.Errorf("published = %q, want %q", body.Published, d.Signature)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Make a request to generate metrics.
	http.Get(ts.URL + "/healthz")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") && !strings.Contains(contentType, "text/openmetrics") {
		t.Errorf("Content-Type = %q, expected prometheus format", contentType)
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	body := string(bodyBytes)

	if !strings.Contains(body, "gridrelay_http_requests_total") {
		t.Error("metrics output missing gridrelay_http_requests_total")
	}
	if !strings.Contains(body, `gridrelay_http_requests_total{code="200",route="/healthz"}`) {
		t.Error("metrics output missing the /healthz request count")
	}
	if !strings.Contains(body, "gridrelay_http_request_duration_seconds") {
		t.Error("metrics output missing gridrelay_http_request_duration_seconds")
	}
}
