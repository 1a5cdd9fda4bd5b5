package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/dataset"
	"github.com/ecomdwh/ecomdwh-go/internal/ingest"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/auditlog"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/auth"
	"github.com/ecomdwh/ecomdwh-go/internal/quality"
)

const (
	maxValidationBody = 64 << 10
	maxEventBody      = 1 << 20
	maxReferences     = 8
)

type qualityAPI struct {
	logger    *slog.Logger
	engine    *quality.Engine
	source    ingest.Source
	publisher *quality.Publisher
	gate      *ingest.Gate
	// audit is nil when no database is configured.
	audit auditlog.QueryRower
	// bucket resolves raw/processed/reports aliases.
	bucket func(string) string
}

// routePolicy lists the role each route needs. Ingest events start
// processing jobs, so they need editor like validations do.
var routePolicy = auth.Policy{
	{Method: http.MethodGet, Prefix: "/rules", Role: auth.RoleViewer},
	{Method: http.MethodPost, Prefix: "/validations", Role: auth.RoleEditor},
	{Method: http.MethodPost, Prefix: "/ingest/", Role: auth.RoleEditor},
}

func (api *qualityAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /rules", api.handleListRules)
	mux.HandleFunc("GET /rules/{table}", api.handleGetRules)
	mux.HandleFunc("POST /validations", api.handleCreateValidation)
	mux.HandleFunc("POST /ingest/events", api.handleIngestEvent)
}

func (api *qualityAPI) handleListRules(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, map[string]any{"tables": api.engine.Registry.Tables()})
}

func (api *qualityAPI) handleGetRules(w http.ResponseWriter, r *http.Request) {
	table := strings.TrimSpace(r.PathValue("table"))
	checks, err := api.engine.Registry.RulesFor(table)
	if err != nil {
		api.writeError(w, r, http.StatusNotFound, "unknown_table")
		return
	}
	required, _ := api.engine.Registry.RequiredColumns(table)
	api.writeJSON(w, http.StatusOK, map[string]any{
		"table":            table,
		"required_columns": required,
		"checks":           checks,
	})
}

type objectLocation struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type createValidationRequest struct {
	Table      string                    `json:"table"`
	Bucket     string                    `json:"bucket"`
	Key        string                    `json:"key"`
	References map[string]objectLocation `json:"references,omitempty"`
}

type validationResponse struct {
	Passed    bool             `json:"passed"`
	Document  quality.Document `json:"document"`
	Bucket    string           `json:"bucket,omitempty"`
	ObjectKey string           `json:"report_object_key,omitempty"`
	SHA256    string           `json:"report_sha256,omitempty"`
}

func (api *qualityAPI) handleCreateValidation(w http.ResponseWriter, r *http.Request) {
	var req createValidationRequest
	if err := decodeJSON(r, &req, maxValidationBody); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	req.Table = strings.TrimSpace(req.Table)
	if req.Table == "" || strings.TrimSpace(req.Bucket) == "" || strings.TrimSpace(req.Key) == "" {
		api.writeError(w, r, http.StatusBadRequest, "table_bucket_key_required")
		return
	}
	if len(req.References) > maxReferences {
		api.writeError(w, r, http.StatusBadRequest, "too_many_references")
		return
	}
	if !api.engine.Registry.Has(req.Table) {
		api.writeError(w, r, http.StatusNotFound, "unknown_table")
		return
	}

	ctx := r.Context()
	ds, err := api.source.Load(ctx, req.Table, api.resolve(req.Bucket), strings.TrimSpace(req.Key))
	if err != nil {
		api.writeLoadError(w, r, err)
		return
	}
	refs := make(map[string]*dataset.Dataset, len(req.References))
	for name, loc := range req.References {
		ref, err := api.source.Load(ctx, name, api.resolve(loc.Bucket), strings.TrimSpace(loc.Key))
		if err != nil {
			api.writeLoadError(w, r, err)
			return
		}
		refs[name] = ref
	}

	rep, err := api.engine.Run(ctx, ds, req.Table, refs)
	if err != nil {
		var ute *quality.UnknownTableError
		if errors.As(err, &ute) {
			api.writeError(w, r, http.StatusNotFound, "unknown_table")
			return
		}
		api.logger.Error("validation failed", "table", req.Table, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	resp := validationResponse{Passed: rep.Passed(), Document: quality.NewDocument(rep)}
	if api.publisher != nil {
		pub, err := api.publisher.Publish(ctx, rep)
		if err != nil {
			api.logger.Error("publish quality report failed", "table", req.Table, "error", err)
			api.writeError(w, r, http.StatusBadGateway, "report_store_unavailable")
			return
		}
		resp.Document = pub.Document
		resp.Bucket = pub.Bucket
		resp.ObjectKey = pub.ObjectKey
		resp.SHA256 = pub.SHA256
	}
	api.recordValidation(ctx, r, req, resp)
	api.writeJSON(w, http.StatusOK, resp)
}

func (api *qualityAPI) recordValidation(ctx context.Context, r *http.Request, req createValidationRequest, resp validationResponse) {
	if api.audit == nil {
		return
	}
	actor := "anonymous"
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.Subject != "" {
		actor = identity.Subject
	}
	auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
	defer cancel()
	_, err := auditlog.Insert(auditCtx, api.audit, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        actor,
		Action:       "quality.validation.run",
		ResourceType: auditlog.ResourceQualityReport,
		ResourceID:   resp.Document.ReportID,
		RequestID:    r.Header.Get("X-Request-Id"),
		RemoteAddr:   r.RemoteAddr,
		Payload: map[string]any{
			"table":        req.Table,
			"source":       req.Bucket + "/" + req.Key,
			"pass_rate":    resp.Document.Summary.PassRate,
			"report_key":   resp.ObjectKey,
			"total_checks": resp.Document.Summary.TotalChecks,
		},
	})
	if err != nil {
		api.logger.Warn("audit validation failed", "report_id", resp.Document.ReportID, "error", err)
	}
}

func (api *qualityAPI) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}
	refs, err := ingest.ParseEvent(raw)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_event")
		return
	}
	results := api.gate.Handle(r.Context(), refs)
	api.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Data validation completed",
		"results": results,
	})
}

func (api *qualityAPI) resolve(bucket string) string {
	if api.bucket == nil {
		return strings.TrimSpace(bucket)
	}
	return api.bucket(bucket)
}

func (api *qualityAPI) writeLoadError(w http.ResponseWriter, r *http.Request, err error) {
	var dae *dataset.DataAccessError
	if errors.As(err, &dae) {
		if dae.NotFound() {
			api.writeError(w, r, http.StatusNotFound, "object_not_found")
			return
		}
		api.logger.Warn("dataset unreadable", "source", dae.Source, "error", dae.Err)
		api.writeError(w, r, http.StatusUnprocessableEntity, "dataset_unreadable")
		return
	}
	api.logger.Error("dataset load failed", "error", err)
	api.writeError(w, r, http.StatusBadGateway, "object_store_unavailable")
}

func decodeJSON(r *http.Request, dst any, limit int64) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *qualityAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(body); err != nil {
		api.logger.Error("encode response failed", "error", err)
		status = http.StatusInternalServerError
		buf.Reset()
		buf.WriteString(`{"error":"internal_error"}` + "\n")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (api *qualityAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
