// Package api provides HTTP handlers for the PointGrid server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/paulmach/orb"

	"github.com/pointgrid/server/internal/jobstore"
	"github.com/pointgrid/server/internal/service"
	"github.com/pointgrid/server/pkg/gridlayer"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	JobManager  *JobManager
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global datasets endpoint (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	// Global export job endpoints. Submission is dataset-scoped below; job
	// ids are globally unique, so status and results are looked up here.
	r.Route("/api/export/{job_id}", func(r chi.Router) {
		r.Get("/", exportJobStatusHandler(cfg.JobManager))
		r.Get("/result", exportJobResultHandler(cfg.JobManager))
		r.Post("/cancel", exportJobCancelHandler(cfg.JobManager))
		r.Delete("/", exportJobDeleteHandler(cfg.JobManager))
	})

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		// Preview tile endpoint
		r.Get("/tiles/{z}/{x}/{y}.png", datasetPreviewTileHandler)

		// API endpoints
		r.Route("/api", func(r chi.Router) {
			r.Get("/metadata", datasetMetadataHandler)
			r.Get("/fields", datasetFieldsHandler)
			r.Get("/fields/{field}/stats", datasetFieldStatsHandler)
			r.Get("/legend", datasetLegendHandler)
			r.Post("/layer", datasetLayerHandler)
			r.Post("/export", exportJobSubmitHandler(cfg.JobManager))
			r.Get("/export", exportJobListHandler(cfg.JobManager))
		})
	})

	return r
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects the layer service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				writeError(w, http.StatusNotFound, "dataset not found: "+datasetID)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.LayerService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.LayerService); ok {
		return svc
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// errorStatus maps engine errors onto HTTP statuses. Configuration errors
// are the caller's fault.
func errorStatus(err error) int {
	var cfgErr *gridlayer.InvalidConfigurationError
	if errors.As(err, &cfgErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

// Dataset-scoped handlers (get service from context)
func datasetPreviewTileHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		writeError(w, http.StatusInternalServerError, "dataset service not found")
		return
	}
	previewTileHandler(svc)(w, r)
}

func datasetMetadataHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		writeError(w, http.StatusInternalServerError, "dataset service not found")
		return
	}
	metadataHandler(svc)(w, r)
}

func datasetFieldsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		writeError(w, http.StatusInternalServerError, "dataset service not found")
		return
	}
	fieldsHandler(svc)(w, r)
}

func datasetFieldStatsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		writeError(w, http.StatusInternalServerError, "dataset service not found")
		return
	}
	fieldStatsHandler(svc)(w, r)
}

func datasetLegendHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		writeError(w, http.StatusInternalServerError, "dataset service not found")
		return
	}
	legendHandler(svc)(w, r)
}

func datasetLayerHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		writeError(w, http.StatusInternalServerError, "dataset service not found")
		return
	}
	layerHandler(svc)(w, r)
}

// Original handlers (take service as parameter)
func previewTileHandler(svc *service.LayerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		z, err := strconv.Atoi(chi.URLParam(r, "z"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid z")
			return
		}
		x, err := strconv.Atoi(chi.URLParam(r, "x"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid x")
			return
		}
		y, err := strconv.Atoi(chi.URLParam(r, "y"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid y")
			return
		}

		cfg, err := layerConfigFromQuery(svc.Defaults(), r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		data, err := svc.PreviewTile(z, x, y, cfg)
		if err != nil {
			if status := errorStatus(err); status == http.StatusBadRequest {
				writeError(w, status, err.Error())
				return
			}
			// Out-of-range tiles and render failures fall back to an
			// empty tile so map clients keep panning smoothly.
			data, _ = svc.EmptyTile()
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(data)
	}
}

func metadataHandler(svc *service.LayerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metadata := svc.Metadata()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(metadata)
	}
}

func fieldsHandler(svc *service.LayerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fields := svc.Fields()
		response := map[string]interface{}{
			"fields": fields,
			"total":  len(fields),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

func fieldStatsHandler(svc *service.LayerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		field := chi.URLParam(r, "field")

		stats, err := svc.FieldStats(field)
		if err != nil {
			status := http.StatusInternalServerError
			if strings.Contains(err.Error(), "not found") {
				status = http.StatusNotFound
			}
			writeError(w, status, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

// legendHandler resolves the color ramp for the requested options. It takes
// the same query parameters as the tile endpoint, so map clients can keep a
// legend in sync with the tiles they show.
func legendHandler(svc *service.LayerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := layerConfigFromQuery(svc.Defaults(), r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		legend, err := svc.Legend(cfg)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(legend)
	}
}

type layerRequest struct {
	Config  json.RawMessage       `json:"config"`
	Camera  gridlayer.CameraState `json:"camera"`
	Hovered *orb.Point            `json:"hovered"`
}

func layerHandler(svc *service.LayerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req layerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		// Client fields overlay the server-side defaults.
		cfg := svc.Defaults()
		if len(req.Config) > 0 {
			if err := json.Unmarshal(req.Config, &cfg); err != nil {
				writeError(w, http.StatusBadRequest, "invalid layer config: "+err.Error())
				return
			}
		}

		params, err := svc.ComposeLayer(cfg, req.Camera, req.Hovered)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(params)
	}
}

// layerConfigFromQuery overlays tile query parameters onto the dataset's
// layer defaults.
func layerConfigFromQuery(cfg gridlayer.Config, query url.Values) (gridlayer.Config, error) {
	if raw := strings.TrimSpace(query.Get("cellSize")); raw != "" {
		v, err := parseFiniteFloat(raw)
		if err != nil {
			return cfg, errors.New("invalid cellSize: " + raw)
		}
		cfg.WorldUnitSize = v
	}
	if raw := strings.TrimSpace(query.Get("coverage")); raw != "" {
		v, err := parseFiniteFloat(raw)
		if err != nil {
			return cfg, errors.New("invalid coverage: " + raw)
		}
		cfg.Coverage = v
	}
	if raw := strings.TrimSpace(query.Get("colorField")); raw != "" {
		cfg.ColorField = raw
	}
	if raw := strings.TrimSpace(query.Get("colorAggregation")); raw != "" {
		agg, err := gridlayer.ParseAggregation(raw)
		if err != nil {
			return cfg, err
		}
		cfg.ColorAggregation = agg
	}
	if raw := strings.TrimSpace(query.Get("percentile")); raw != "" {
		pr, err := parsePercentileRange(raw)
		if err != nil {
			return cfg, err
		}
		cfg.Percentile = pr
	}
	if stops := parseColorRange(query.Get("colorRange")); stops != nil {
		cfg.ColorRange = stops
	}
	return cfg, nil
}

func parseFiniteFloat(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("value must be finite")
	}
	return v, nil
}

// parsePercentileRange parses "lo,hi" with both bounds in [0, 100].
func parsePercentileRange(raw string) ([2]float64, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return [2]float64{}, errors.New("invalid percentile: expected lo,hi")
	}
	lo, err := parseFiniteFloat(strings.TrimSpace(parts[0]))
	if err != nil {
		return [2]float64{}, errors.New("invalid percentile lower bound: " + parts[0])
	}
	hi, err := parseFiniteFloat(strings.TrimSpace(parts[1]))
	if err != nil {
		return [2]float64{}, errors.New("invalid percentile upper bound: " + parts[1])
	}
	return [2]float64{lo, hi}, nil
}

// parseColorRange parses a comma-separated hex stop list, e.g.
// "#5A1846,#900C3F". Returns nil when the parameter is absent or empty.
func parseColorRange(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Export job handlers

type exportSubmitRequest struct {
	Format string          `json:"format"`
	Config json.RawMessage `json:"config"`
}

func exportJobSubmitHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}

		svc := getDatasetService(r)
		if svc == nil {
			writeError(w, http.StatusInternalServerError, "dataset service not found")
			return
		}

		var req exportSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		// Apply defaults
		if req.Format == "" {
			req.Format = "geojson"
		}
		if req.Format != "geojson" {
			writeError(w, http.StatusBadRequest, "unsupported export format: "+req.Format)
			return
		}

		cfg := svc.Defaults()
		if len(req.Config) > 0 {
			if err := json.Unmarshal(req.Config, &cfg); err != nil {
				writeError(w, http.StatusBadRequest, "invalid layer config: "+err.Error())
				return
			}
		}
		// Reject bad configurations before queueing.
		if err := cfg.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		params := jobstore.ExportJobParams{
			DatasetID: chi.URLParam(r, "dataset"),
			Format:    req.Format,
			Layer:     cfg,
		}

		job, err := jm.Submit(params)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to submit job: "+err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func jobJSON(job *jobstore.ExportJob) map[string]interface{} {
	return map[string]interface{}{
		"job_id":      job.ID,
		"dataset":     job.DatasetID,
		"status":      job.Status,
		"created_at":  job.CreatedAt,
		"started_at":  job.StartedAt,
		"finished_at": job.FinishedAt,
		"progress":    job.Progress,
		"cell_count":  job.CellCount,
		"size_bytes":  job.SizeBytes,
		"error":       job.Error,
	}
}

func exportJobStatusHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jobJSON(job))
	}
}

func exportJobListHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}

		datasetID := chi.URLParam(r, "dataset")
		jobs, err := jm.Store().ListJobsByDataset(datasetID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list jobs: "+err.Error())
			return
		}

		out := make([]map[string]interface{}, 0, len(jobs))
		for _, job := range jobs {
			out = append(out, jobJSON(job))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jobs":  out,
			"total": len(out),
		})
	}
}

func exportJobResultHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}

		if job.Status != jobstore.JobStatusCompleted {
			writeError(w, http.StatusBadRequest, "job not completed (status: "+string(job.Status)+")")
			return
		}

		data, contentType, err := jm.Store().GetResult(jobID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load result: "+err.Error())
			return
		}
		if data == nil {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}
		if contentType == "" {
			contentType = "application/geo+json"
		}

		filename := "export-" + jobID + ".geojson"
		disposition := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
		if disposition != "" {
			w.Header().Set("Content-Disposition", disposition)
		} else {
			w.Header().Set("Content-Disposition", "attachment")
		}
		w.Header().Set("Content-Type", contentType)
		w.Write(data)
	}
}

func exportJobCancelHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}

		cancelled := jm.Cancel(jobID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id":    jobID,
			"cancelled": cancelled,
		})
	}
}

func exportJobDeleteHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if job.Status == jobstore.JobStatusRunning {
			writeError(w, http.StatusBadRequest, "cancel the job before deleting it")
			return
		}

		if err := jm.Delete(jobID); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to delete job: "+err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id":  jobID,
			"deleted": true,
		})
	}
}
