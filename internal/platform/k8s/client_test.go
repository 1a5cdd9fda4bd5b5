package k8s

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateJobPostsBatchJob(t *testing.T) {
	var got Job
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/apis/batch/v1/namespaces/etl/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "tok", "etl", srv.Client())
	if err != nil {
		t.Fatalf("NewClient() err=%v", err)
	}
	err = c.CreateJob(context.Background(), "", Job{Metadata: ObjectMeta{Name: "crawl-1"}})
	if err != nil {
		t.Fatalf("CreateJob() err=%v", err)
	}
	if got.Kind != "Job" || got.APIVersion != "batch/v1" || got.Metadata.Namespace != "etl" {
		t.Fatalf("job=%+v", got)
	}
	if auth != "Bearer tok" {
		t.Fatalf("Authorization=%q", auth)
	}
}

func TestGetJobMapsStatusCodes(t *testing.T) {
	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"metadata":{"name":"crawl-1"},"spec":{"template":{"spec":{"containers":[]}}},"status":{"active":1}}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "", "etl", srv.Client())

	if _, err := c.GetJob(context.Background(), "", "crawl-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetJob() err=%v, want ErrNotFound", err)
	}

	status = http.StatusServiceUnavailable
	_, err := c.GetJob(context.Background(), "", "crawl-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Temporary() {
		t.Fatalf("GetJob() err=%v, want temporary APIError", err)
	}

	status = http.StatusOK
	job, err := c.GetJob(context.Background(), "", "crawl-1")
	if err != nil {
		t.Fatalf("GetJob() err=%v", err)
	}
	if job.Status.Active != 1 {
		t.Fatalf("Active=%d, want 1", job.Status.Active)
	}
}

func TestJobCondition(t *testing.T) {
	job := Job{Status: JobStatus{Conditions: []JobCondition{
		{Type: "Failed", Status: "False"},
		{Type: "Complete", Status: "True", Reason: "Done"},
	}}}
	if _, ok := job.Condition("Failed"); ok {
		t.Fatalf("Failed condition should not be true")
	}
	cond, ok := job.Condition("Complete")
	if !ok || cond.Reason != "Done" {
		t.Fatalf("Condition(Complete)=%+v ok=%v", cond, ok)
	}
}

func TestDeleteJobUsesBackgroundPropagation(t *testing.T) {
	var (
		method string
		opts   map[string]string
	)
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		if r.URL.Path != "/apis/batch/v1/namespaces/etl/jobs/process-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &opts)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "", "etl", srv.Client())
	if err := c.DeleteJob(context.Background(), "", "process-1"); err != nil {
		t.Fatalf("DeleteJob() err=%v", err)
	}
	if method != http.MethodDelete || opts["propagationPolicy"] != "Background" {
		t.Fatalf("method=%s opts=%v", method, opts)
	}

	status = http.StatusNotFound
	if err := c.DeleteJob(context.Background(), "", "process-1"); err != nil {
		t.Fatalf("DeleteJob(gone) err=%v, want nil", err)
	}
	if err := c.DeleteJob(context.Background(), "", " "); err == nil {
		t.Fatalf("DeleteJob(empty) expected error")
	}
}

func TestOpenReadsConnectionFiles(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "token")
	if err := os.WriteFile(tokenFile, []byte("  tok \n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Open(Connection{APIURL: "https://k8s.example.test", TokenFile: tokenFile, CAFile: filepath.Join(dir, "missing.crt"), Namespace: "etl"})
	if err == nil || !strings.Contains(err.Error(), "missing.crt") {
		t.Fatalf("Open() err=%v, want missing ca error", err)
	}

	caFile := filepath.Join(dir, "ca.crt")
	if err := os.WriteFile(caFile, []byte("not a pem"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err = Open(Connection{APIURL: "https://k8s.example.test", TokenFile: tokenFile, CAFile: caFile, Namespace: "etl"})
	if err == nil || !strings.Contains(err.Error(), "invalid kubernetes ca bundle") {
		t.Fatalf("Open() err=%v, want invalid ca error", err)
	}

	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	_, err = Open(Connection{TokenFile: empty, CAFile: caFile, Namespace: "etl"})
	if err == nil || !strings.Contains(err.Error(), "is empty") {
		t.Fatalf("Open() err=%v, want empty token error", err)
	}
}
