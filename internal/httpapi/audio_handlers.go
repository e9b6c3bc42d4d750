package httpapi

import (
	"net/http"
	"strconv"
)

// handleAudioStream serves a cached synthesis artifact by key. These are the
// same WAV blobs the media stream plays; the endpoint exists for debugging
// and for clients that fetch audio over HTTP instead of the stream.
func (r *Router) handleAudioStream(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if id == "" {
		http.Error(w, `{"error": "missing id"}`, http.StatusBadRequest)
		return
	}

	data, ok := r.audio.Get(id)
	if !ok {
		// Expired or never existed. Artifacts evict on TTL, so 404s
		// here are routine.
		http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (r *Router) handleListCalls(w http.ResponseWriter, req *http.Request) {
	limit := 100
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	calls, err := r.store.ListCalls(req.Context(), limit)
	if err != nil {
		r.logger.Printf("calls: list failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

func (r *Router) handleGetCall(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("providerCallId")
	if id == "" {
		http.Error(w, `{"error": "missing id"}`, http.StatusBadRequest)
		return
	}

	detail, err := r.store.GetCallDetail(req.Context(), id)
	if err != nil {
		http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}
