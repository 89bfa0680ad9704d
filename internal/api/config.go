package api

import (
	"net/http"
)

type configRequest struct {
	Overrides map[string]string `json:"overrides"`
}

func handleGetConfig(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, deps.Runtimes.Config().Summary())
}

// handlePostConfig swaps in a new config snapshot and runtime. Requests already running keep
// the runtime they started with.
func handlePostConfig(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request configRequest
	if err := decodeJSON(w, r, &request, false); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid config request body", false, map[string]any{"details": err.Error()})
		return
	}
	if len(request.Overrides) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "OVERRIDES_REQUIRED", "overrides must not be empty", false, nil)
		return
	}
	next, err := deps.Runtimes.Reload(r.Context(), request.Overrides)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONFIG", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, next.Summary())
}
