package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/dataset"
	"github.com/ecomdwh/ecomdwh-go/internal/ingest"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/auth"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/objectstore/objectstoretest"
	"github.com/ecomdwh/ecomdwh-go/internal/quality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func customersCSV(rows int) []byte {
	var b strings.Builder
	b.WriteString("customer_id,email,registration_date,created_at\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "%d,c%d@example.com,2023-01-01,2024-06-01 08:00:00\n", i+1, i)
	}
	return []byte(b.String())
}

func newTestServer(t *testing.T) (http.Handler, *objectstoretest.Memory) {
	t.Helper()
	store := objectstoretest.NewMemory("ecommerce-dwh-raw", "ecommerce-dwh-processed", "ecommerce-dwh-reports")
	engine := quality.NewEngine(quality.DefaultRules(), discardLogger())
	engine.Now = func() time.Time { return fixedNow }
	loader := dataset.Loader{Store: store}

	api := &qualityAPI{
		logger:    discardLogger(),
		engine:    engine,
		source:    loader,
		publisher: &quality.Publisher{Store: store, Bucket: "ecommerce-dwh-reports"},
		gate: &ingest.Gate{
			Validator: ingest.NewFileValidator(quality.DefaultIngestRules(), nil),
			Source:    loader,
		},
		bucket: func(alias string) string { return "ecommerce-dwh-" + alias },
	}
	mux := http.NewServeMux()
	api.register(mux)

	authn, err := auth.NewTokenAuthenticator([]auth.TokenEntry{
		{Subject: "airflow", Role: auth.RoleEditor, Token: "edit-token"},
		{Subject: "grafana", Role: auth.RoleViewer, Token: "view-token"},
	})
	require.NoError(t, err)
	return auth.Middleware{Authenticator: authn, Authorize: routePolicy.Authorizer()}.Wrap(mux), store
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "http://quality.test"+path, strings.NewReader(body))
	req.Header.Set("X-Request-Id", "rid-1")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGetRules(t *testing.T) {
	h, _ := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/rules/orders", "view-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "orders", body["table"])
	assert.NotEmpty(t, body["checks"])

	rec = do(t, h, http.MethodGet, "/rules/invoices", "view-token", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_table", decode(t, rec)["error"])

	rec = do(t, h, http.MethodGet, "/rules", "view-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["tables"], 4)
}

func TestValidationRequiresEditor(t *testing.T) {
	h, _ := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/validations", "view-token", `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, auth.RoleEditor, decode(t, rec)["required_role"])
	rec = do(t, h, http.MethodGet, "/rules/orders", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateValidationPublishesReport(t *testing.T) {
	h, store := newTestServer(t)
	store.Seed("ecommerce-dwh-processed", "customers/customers.csv", customersCSV(150))

	rec := do(t, h, http.MethodPost, "/validations", "edit-token",
		`{"table":"customers","bucket":"processed","key":"customers/customers.csv"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp validationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Passed)
	assert.Equal(t, 1.0, resp.Document.Summary.PassRate)
	assert.Equal(t, "quality_reports/data_quality_report_20240601_120000.json", resp.ObjectKey)

	raw, ok := store.Object("ecommerce-dwh-reports", resp.ObjectKey)
	require.True(t, ok)
	assert.NoError(t, quality.ValidateDocument(raw))
}

func TestCreateValidationReportsFailures(t *testing.T) {
	h, store := newTestServer(t)
	store.Seed("ecommerce-dwh-processed", "customers/customers.csv", customersCSV(20))

	rec := do(t, h, http.MethodPost, "/validations", "edit-token",
		`{"table":"customers","bucket":"processed","key":"customers/customers.csv"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp validationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Passed)
	assert.Equal(t, 1, resp.Document.Summary.FailedChecks)
}

func TestCreateValidationErrors(t *testing.T) {
	h, store := newTestServer(t)
	store.Seed("ecommerce-dwh-processed", "orders/orders.pdf", []byte("%PDF"))

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad json", `{"table":`, http.StatusBadRequest, "invalid_json"},
		{"unknown field", `{"table":"orders","bucket":"raw","key":"a.csv","extra":1}`, http.StatusBadRequest, "invalid_json"},
		{"missing key", `{"table":"orders","bucket":"raw"}`, http.StatusBadRequest, "table_bucket_key_required"},
		{"unknown table", `{"table":"invoices","bucket":"raw","key":"a.csv"}`, http.StatusNotFound, "unknown_table"},
		{"missing object", `{"table":"orders","bucket":"processed","key":"orders/none.csv"}`, http.StatusNotFound, "object_not_found"},
		{"not csv", `{"table":"orders","bucket":"processed","key":"orders/orders.pdf"}`, http.StatusUnprocessableEntity, "dataset_unreadable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/validations", "edit-token", tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decode(t, rec)["error"])
		})
	}
}

func TestIngestEvent(t *testing.T) {
	h, store := newTestServer(t)
	store.Seed("ecommerce-dwh-raw", "data/customers/customers.csv", customersCSV(120))

	event := `{"Records":[
		{"eventSource":"aws:s3","s3":{"bucket":{"name":"ecommerce-dwh-raw"},"object":{"key":"data/customers/customers.csv"}}},
		{"eventSource":"aws:s3","s3":{"bucket":{"name":"ecommerce-dwh-raw"},"object":{"key":"data/customers/readme.txt"}}}
	]}`
	rec := do(t, h, http.MethodPost, "/ingest/events", "edit-token", event)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Message string                  `json:"message"`
		Results []ingest.FileValidation `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, ingest.StatusPassed, resp.Results[0].Status)
	assert.Equal(t, 120, resp.Results[0].RowCount)

	rec = do(t, h, http.MethodPost, "/ingest/events", "edit-token", `[]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
