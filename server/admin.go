package server

import (
	"net/http"

	"github.com/teranos/croplink/docstore"
	"github.com/teranos/croplink/logger"
	"github.com/teranos/croplink/pulse/async"
	"github.com/teranos/croplink/sourcecfg"
)

// HandleListJobs handles GET /api/jobs?status=&source_id=&page_token=&page_size=
func (s *Server) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		handleError(w, s.logger, err, "invalid page")
		return
	}

	filter := async.JobFilter{SourceID: r.URL.Query().Get("source_id")}
	if status := r.URL.Query().Get("status"); status != "" {
		if !async.IsValidStatus(status) {
			writeError(w, http.StatusBadRequest, "unknown job status "+status)
			return
		}
		filter.Status = async.JobStatus(status)
	}

	store := s.queue.Store()
	total, err := store.CountJobs(r.Context(), filter)
	if err != nil {
		handleError(w, s.logger, err, "failed to count jobs")
		return
	}
	jobs, err := store.ListJobs(r.Context(), filter, p.offset, p.size)
	if err != nil {
		handleError(w, s.logger, err, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*async.Job{}
	}

	writeJSON(w, http.StatusOK, JobListResponse{
		Jobs:          jobs,
		Total:         total,
		NextPageToken: p.next(len(jobs), total),
	})
}

// HandleGetJob handles GET /api/jobs/{id}
func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleListDeadLetters handles GET /api/deadletters?source_id=&page_token=&page_size=
func (s *Server) HandleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		handleError(w, s.logger, err, "invalid page")
		return
	}
	sourceID := r.URL.Query().Get("source_id")

	store := s.queue.Store()
	total, err := store.CountDeadLetters(r.Context(), sourceID)
	if err != nil {
		handleError(w, s.logger, err, "failed to count dead letters")
		return
	}
	entries, err := store.ListDeadLetters(r.Context(), sourceID, p.offset, p.size)
	if err != nil {
		handleError(w, s.logger, err, "failed to list dead letters")
		return
	}
	if entries == nil {
		entries = []*async.DeadLetterEntry{}
	}

	writeJSON(w, http.StatusOK, DeadLetterListResponse{
		DeadLetters:   entries,
		Total:         total,
		NextPageToken: p.next(len(entries), total),
	})
}

// HandleGetDeadLetter handles GET /api/deadletters/{id}, keyed by ingestion id
func (s *Server) HandleGetDeadLetter(w http.ResponseWriter, r *http.Request) {
	entry, err := s.queue.Store().GetDeadLetter(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "failed to get dead letter")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// DocumentResponse is a document with every delivery that resolved to it.
type DocumentResponse struct {
	*docstore.Document
	Deliveries []docstore.Delivery `json:"deliveries"`
}

// HandleGetDocument handles GET /api/documents/{id}
func (s *Server) HandleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "failed to get document")
		return
	}
	deliveries, err := s.docs.Deliveries(r.Context(), doc.ID)
	if err != nil {
		handleError(w, s.logger, err, "failed to list deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []docstore.Delivery{}
	}
	writeJSON(w, http.StatusOK, DocumentResponse{Document: doc, Deliveries: deliveries})
}

// SourceSummary is one cached source config as reported by /api/sources.
type SourceSummary struct {
	SourceID         string `json:"source_id"`
	Version          string `json:"version,omitempty"`
	TenantID         string `json:"tenant_id,omitempty"`
	Mode             string `json:"mode"`
	LandingContainer string `json:"landing_container,omitempty"`
	PathPattern      string `json:"path_pattern,omitempty"`
	Schedule         string `json:"schedule,omitempty"`
	Strategy         string `json:"strategy"`
}

// HandleListSources handles GET /api/sources: the configs the cache
// currently serves and those it rejected at load.
func (s *Server) HandleListSources(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summaries := []SourceSummary{}
	for _, src := range s.sources.Sources(ctx) {
		summaries = append(summaries, summarize(src.Config))
	}

	rejected := map[string]string{}
	for id, err := range s.sources.Rejected(ctx) {
		rejected[id] = err.Error()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources":  summaries,
		"rejected": rejected,
	})
}

func summarize(cfg *sourcecfg.SourceConfig) SourceSummary {
	return SourceSummary{
		SourceID:         cfg.SourceID,
		Version:          cfg.Version,
		TenantID:         cfg.TenantID,
		Mode:             string(cfg.Ingestion.Mode),
		LandingContainer: cfg.Ingestion.LandingContainer,
		PathPattern:      cfg.Ingestion.PathPattern.Template,
		Schedule:         cfg.Ingestion.Schedule,
		Strategy:         string(cfg.Transformation.EffectiveStrategy()),
	}
}

// HandleStats handles GET /api/stats
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.queue.Stats(r.Context())
	if err != nil {
		handleError(w, s.logger, err, "failed to read queue stats")
		return
	}
	deadLetters, err := s.queue.Store().CountDeadLetters(r.Context(), "")
	if err != nil {
		handleError(w, s.logger, err, "failed to count dead letters")
		return
	}
	documents, err := s.docs.Count(r.Context(), "")
	if err != nil {
		handleError(w, s.logger, err, "failed to count documents")
		return
	}

	jobs := map[string]int{}
	for _, st := range []async.JobStatus{async.JobStatusQueued, async.JobStatusProcessing, async.JobStatusCompleted, async.JobStatusFailed} {
		jobs[string(st)] = counts[st]
	}
	logger.AddPulseSymbol(s.logger).Debugw("Stats requested", "remote", r.RemoteAddr)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":         jobs,
		"dead_letters": deadLetters,
		"documents":    documents,
	})
}
