package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/jobstore/internal/fetcher"
	"github.com/sells-group/jobstore/internal/model"
	"github.com/sells-group/jobstore/internal/query"
)

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Records.Ping(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ingest accepts a JSON array of candidates or {"jobs": [...]}. The optional
// chunk_size query parameter overrides the configured chunk size.
func (h *handlers) ingest(w http.ResponseWriter, r *http.Request) {
	chunkSize := h.deps.ChunkSize
	if v := r.URL.Query().Get("chunk_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, "bad_request", "chunk_size must be a positive integer")
			return
		}
		chunkSize = n
	}

	body := http.MaxBytesReader(w, r.Body, h.opts.MaxBodySize)
	candidates, err := fetcher.DecodeCandidates(r.Context(), body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "body must be a JSON array of candidates or {\"jobs\": [...]}")
		return
	}
	if len(candidates) == 0 {
		writeError(w, r, http.StatusBadRequest, "bad_request", "no candidates")
		return
	}

	batch := h.deps.Ingester.Ingest(r.Context(), candidates, chunkSize)
	status := http.StatusOK
	if batch.Halted {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, batch)
}

func filterFrom(r *http.Request) (query.Filter, error) {
	q := r.URL.Query()
	search := q.Get("q")
	if search == "" {
		search = q.Get("search")
	}
	f := query.Filter{
		Site:   strings.TrimSpace(q.Get("site")),
		Search: strings.TrimSpace(search),
		Status: model.JobStatus(strings.TrimSpace(q.Get("status"))),
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, errBadParam("status")
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		return f, errBadParam("limit")
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		return f, errBadParam("offset")
	}
	return f, nil
}

type errBadParam string

func (e errBadParam) Error() string { return "invalid " + string(e) + " parameter" }

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errBadParam(v)
	}
	return n, nil
}

type listResponse struct {
	Jobs   []model.JobRecord `json:"jobs"`
	Count  int               `json:"count"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	f, err := filterFrom(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	jobs, err := h.deps.Reader.List(r.Context(), f)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []model.JobRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse{Jobs: jobs, Count: len(jobs), Limit: f.Limit, Offset: f.Offset})
}

func (h *handlers) countJobs(w http.ResponseWriter, r *http.Request) {
	f, err := filterFrom(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	n, err := h.deps.Reader.Count(r.Context(), f)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

// stats accepts window as a Go duration ("24h") or a day count ("7").
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	window := h.opts.StatsWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := parseWindow(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_request", "invalid window parameter")
			return
		}
		window = d
	}

	st, err := h.deps.Reader.Stats(r.Context(), window)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func parseWindow(v string) (time.Duration, error) {
	if days, err := strconv.Atoi(v); err == nil && days > 0 {
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, errBadParam("window")
	}
	return d, nil
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.deps.Records.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handlers) patchJob(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.opts.MaxBodySize))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil || len(fields) == 0 {
		writeError(w, r, http.StatusBadRequest, "bad_request", "body must be a non-empty JSON object")
		return
	}

	job, err := h.deps.Records.UpdateFields(r.Context(), chi.URLParam(r, "id"), fields)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handlers) deleteJob(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Records.DeleteJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *handlers) runMerge(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Merger.Run(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
