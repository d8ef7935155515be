package ops

import "net/http"

// ProgressHandler serves the pipeline snapshot.
type ProgressHandler struct {
	status StatusProvider
}

// NewProgressHandler creates a new progress handler.
func NewProgressHandler(status StatusProvider) *ProgressHandler {
	return &ProgressHandler{status: status}
}

// HandleProgress handles GET /progress requests.
func (h *ProgressHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	if h.status == nil {
		writeError(w, http.StatusServiceUnavailable, "no_pipeline")
		return
	}
	writeJSON(w, http.StatusOK, h.status.Status())
}
