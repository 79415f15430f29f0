package server

import (
	"encoding/json"
	"net/http"

	"github.com/teranos/croplink/ingest"
	"github.com/teranos/croplink/logger"
)

// HandleEvents handles POST /api/events, the storage notification
// endpoint. A subscription handshake is answered with its validation code.
// Other batches are acknowledged with 202 and per-batch counts; unmatched
// and ignored events are never rejected. Admission failures answer 500 so
// the provider redelivers; redelivery is idempotent.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var events []ingest.StorageEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxEventBytes))
	if err := dec.Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event batch: "+err.Error())
		return
	}

	res, err := s.adapter.HandleEvents(r.Context(), events)
	if res.IsHandshake() {
		writeJSON(w, http.StatusOK, map[string]string{"validationResponse": res.ValidationCode})
		return
	}
	if err != nil {
		logger.AddIngestSymbol(s.logger).Errorw("Event batch admission failed",
			"events", len(events),
			"accepted", res.Accepted,
			logger.FieldError, err)
		writeError(w, http.StatusInternalServerError, "event admission failed")
		return
	}

	s.logger.Debugw("Event batch handled",
		"events", len(events),
		"accepted", res.Accepted,
		"duplicates", res.Duplicates,
		"unmatched", res.Unmatched,
		"ignored", res.Ignored)
	writeJSON(w, http.StatusAccepted, res)
}
