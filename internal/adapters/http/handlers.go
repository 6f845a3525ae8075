package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/jobrunner/stratum/internal/application"
	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/input"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// ConversionRequest is the JSON body of POST /api/v1/conversions. A
// source is addressed either by its catalog ID or by a local path.
type ConversionRequest struct {
	SourceID      string `json:"source_id,omitempty"`
	SourcePath    string `json:"source_path,omitempty"`
	OutputDir     string `json:"output_dir,omitempty"`
	ChunkSize     int    `json:"chunk_size,omitempty"`
	Compression   string `json:"compression,omitempty"`
	MaxBadRecords int    `json:"max_bad_records,omitempty"`
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":      boolToStatus(details.Healthy),
		"ready":       details.Ready,
		"active_jobs": details.ActiveJobs,
		"total_jobs":  details.TotalJobs,
		"components":  details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleListSources returns the source catalog from object storage.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	objects, err := s.storage.List(r.Context())
	if err != nil {
		s.logger.Error("listing sources", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list sources")
		return
	}

	sources := make([]map[string]interface{}, len(objects))
	for i, obj := range objects {
		sources[i] = map[string]interface{}{
			"id":            sourceID(obj.Key),
			"key":           obj.Key,
			"size":          obj.Size,
			"last_modified": obj.LastModified,
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources": sources,
		"count":   len(sources),
	})
}

// handleGetSource inspects one source and returns its layer catalog.
// The container is fetched into the local source cache first.
func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["sourceId"]

	obj, err := s.findSource(r, id)
	if err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) {
			s.writeError(w, http.StatusNotFound, "Source not found")
			return
		}
		s.logger.Error("resolving source", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to resolve source")
		return
	}

	localPath := filepath.Join(s.conversion.SourceDir, obj.Key)
	if err := s.storage.Download(r.Context(), obj.Key, localPath); err != nil {
		s.logger.Error("downloading source", "key", obj.Key, "error", err)
		s.writeError(w, http.StatusBadGateway, "Failed to fetch source")
		return
	}

	source, err := s.inspector.Inspect(r.Context(), localPath)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.formatSource(id, source))
}

// handleCreateConversion submits an asynchronous conversion job.
func (s *Server) handleCreateConversion(w http.ResponseWriter, r *http.Request) {
	var body ConversionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	sourcePath := body.SourcePath
	outputID := sourceID(sourcePath)
	if body.SourceID != "" {
		obj, err := s.findSource(r, body.SourceID)
		if err != nil {
			if errors.Is(err, domain.ErrSourceNotFound) {
				s.writeError(w, http.StatusNotFound, "Source not found")
				return
			}
			s.writeError(w, http.StatusInternalServerError, "Failed to resolve source")
			return
		}
		sourcePath = filepath.Join(s.conversion.SourceDir, obj.Key)
		outputID = body.SourceID
		if err := s.storage.Download(r.Context(), obj.Key, sourcePath); err != nil {
			s.logger.Error("downloading source", "key", obj.Key, "error", err)
			s.writeError(w, http.StatusBadGateway, "Failed to fetch source")
			return
		}
	}
	if sourcePath == "" {
		s.writeError(w, http.StatusBadRequest, "source_id or source_path required")
		return
	}

	req := input.ConvertRequest{
		SourcePath:    sourcePath,
		OutputDir:     body.OutputDir,
		ChunkSize:     body.ChunkSize,
		Compression:   body.Compression,
		MaxBadRecords: body.MaxBadRecords,
	}
	if req.OutputDir == "" {
		req.OutputDir = filepath.Join(s.conversion.OutputDir, outputID)
	}
	if req.ChunkSize == 0 {
		req.ChunkSize = s.conversion.ChunkSize
	}
	if req.Compression == "" {
		req.Compression = s.conversion.Compression
	}
	if req.MaxBadRecords == 0 {
		req.MaxBadRecords = s.conversion.MaxBadRecords
	}

	jobID, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": jobID,
		"state":  string(input.JobRunning),
	})
}

// handleListConversions returns all known jobs, most recent first.
func (s *Server) handleListConversions(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	response := make([]map[string]interface{}, len(jobs))
	for i := range jobs {
		response[i] = s.formatJob(&jobs[i])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversions": response,
		"count":       len(jobs),
	})
}

// handleGetConversion returns one job by ID.
func (s *Server) handleGetConversion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := vars["jobId"]

	status, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, s.formatJob(status))
}

// handleSync handles the sync trigger endpoint.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncService == nil {
		s.writeError(w, http.StatusNotFound, "Sync service not available")
		return
	}

	result, err := s.syncService.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			w.Header().Set("Retry-After", "30")
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in 30 seconds.")
			return
		}
		s.logger.Error("sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// handleSwaggerUI serves an interactive API browser for the spec.
func (s *Server) handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(swaggerUIHTML))
}

// findSource resolves a catalog ID to its storage object.
func (s *Server) findSource(r *http.Request, id string) (*output.StorageObject, error) {
	objects, err := s.storage.List(r.Context())
	if err != nil {
		return nil, err
	}
	for i := range objects {
		if sourceID(objects[i].Key) == id {
			return &objects[i], nil
		}
	}
	return nil, domain.ErrSourceNotFound
}

// formatSource formats an inspected source for JSON output.
func (s *Server) formatSource(id string, source *domain.Source) map[string]interface{} {
	layers := make([]map[string]interface{}, len(source.Layers))
	for i := range source.Layers {
		l := &source.Layers[i]
		layers[i] = map[string]interface{}{
			"name":            l.Name,
			"description":     l.Description,
			"geometry_type":   l.GeometryType,
			"geometry_column": l.GeometryColumn,
			"srid":            l.SRID,
			"record_count":    l.RecordCount,
			"field_count":     len(l.Fields),
		}
		if l.Extent != nil {
			layers[i]["extent"] = map[string]interface{}{
				"min_x": l.Extent.MinX,
				"min_y": l.Extent.MinY,
				"max_x": l.Extent.MaxX,
				"max_y": l.Extent.MaxY,
			}
		}
		if l.ExtentWarning {
			layers[i]["extent_warning"] = true
		}
	}

	return map[string]interface{}{
		"id":            id,
		"name":          source.Name,
		"path":          source.Path,
		"size":          source.Size,
		"layer_count":   source.LayerCount(),
		"total_records": source.TotalRecords(),
		"inspected_at":  source.InspectedAt,
		"layers":        layers,
	}
}

// formatJob formats a job status for JSON output.
func (s *Server) formatJob(status *input.JobStatus) map[string]interface{} {
	job := map[string]interface{}{
		"job_id":      status.ID,
		"state":       string(status.State),
		"source_path": status.SourcePath,
	}
	if status.Error != "" {
		job["error"] = status.Error
	}
	if status.Result != nil {
		r := status.Result
		job["result"] = map[string]interface{}{
			"success":          r.Success,
			"output_dir":       r.OutputDir,
			"layers_converted": len(r.LayersConverted),
			"layers_failed":    r.FailedLayerNames(),
			"total_records":    r.TotalRecords,
			"total_time_ms":    r.TotalTime.Milliseconds(),
			"processing_rate":  r.ProcessingRate,
			"output_size":      r.OutputSize,
			"cancelled":        r.Cancelled,
		}
	}
	return job
}

// handleServiceError maps application errors to HTTP status codes.
func (s *Server) handleServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
		return
	}

	if errors.Is(err, domain.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Not found")
		return
	}

	s.logger.Error("request failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "Request failed")
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}

// sourceID derives a catalog ID from an object key or file path.
func sourceID(key string) string {
	base := filepath.Base(key)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <title>Stratum API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>
    window.onload = function () {
        SwaggerUIBundle({
            url: "/openapi.json",
            dom_id: "#swagger-ui"
        });
    };
</script>
</body>
</html>`
