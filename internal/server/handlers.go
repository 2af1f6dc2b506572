package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"hyperregistry/internal/api"
)

// filtersFromQuery parses namespace, type, status, and facet.<key>=<value>
// query parameters into SearchFilters.
func filtersFromQuery(r *http.Request) api.SearchFilters {
	q := r.URL.Query()
	filters := api.SearchFilters{
		Namespace: q.Get("namespace"),
		Category:  api.Category(q.Get("type")),
		Status:    api.EntryStatus(q.Get("status")),
	}
	for key, values := range q {
		facet, ok := strings.CutPrefix(key, "facet.")
		if !ok || facet == "" {
			continue
		}
		if filters.Facets == nil {
			filters.Facets = make(map[string][]string)
		}
		filters.Facets[facet] = append(filters.Facets[facet], values...)
	}
	return filters
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return api.NewValidationError("request", []string{"malformed JSON body: " + err.Error()})
	}
	return nil
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := api.GetRegistry().Search(r.Context(), filtersFromQuery(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*api.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := api.GetRegistry().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var entry api.Entry
	if err := decode(r, &entry); err != nil {
		writeError(w, r, err)
		return
	}
	if err := api.GetRegistry().Register(r.Context(), &entry); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": entry.ID})
}

func (s *Server) handlePutEntry(w http.ResponseWriter, r *http.Request) {
	var entry api.Entry
	if err := decode(r, &entry); err != nil {
		writeError(w, r, err)
		return
	}
	entry.ID = chi.URLParam(r, "id")
	if err := api.GetRegistry().Update(r.Context(), &entry, api.UpdateOptions{}); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := api.GetRegistry().Get(r.Context(), entry.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handlePatchEntry merges only the provided fields onto the stored entry.
func (s *Server) handlePatchEntry(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if err := decode(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	entry, err := api.GetRegistry().Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	targets := map[string]interface{}{
		"data":                &entry.Data,
		"metadata":            &entry.Metadata,
		"specifications":      &entry.Specifications,
		"config":              &entry.Config,
		"tags":                &entry.Tags,
		"status":              &entry.Status,
		"gefs":                &entry.GEFS,
		"dependencies":        &entry.Dependencies,
		"conflicts":           &entry.Conflicts,
		"version":             &entry.Version,
		"propagation_targets": &entry.PropagationTargets,
		"propagation_mode":    &entry.PropagationMode,
		"streaming_enabled":   &entry.StreamingEnabled,
		"hotswap_enabled":     &entry.HotSwapEnabled,
	}
	for field, raw := range patch {
		dst, ok := targets[field]
		if !ok {
			writeError(w, r, api.NewValidationError("entry", []string{"field " + field + " is not patchable"}))
			return
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			writeError(w, r, api.NewValidationError("entry", []string{"field " + field + ": " + err.Error()}))
			return
		}
	}

	if err := api.GetRegistry().Update(r.Context(), entry, api.UpdateOptions{}); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := api.GetRegistry().Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	err := api.GetRegistry().Delete(r.Context(), chi.URLParam(r, "id"), api.DeleteOptions{Force: force})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEntryRelationships returns both directions: the edges the entry
// declares and the edges pointing at it from the relationship index.
func (s *Server) handleEntryRelationships(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := api.GetRegistry().Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	inbound, err := s.store.RelatedTo(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outbound": entry.Relationships,
		"inbound":  inbound,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req api.SearchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	entries, err := api.GetRegistry().Search(r.Context(), req.Filters)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var hits []*api.Entry
	for _, e := range entries {
		if req.Query != "" &&
			!strings.Contains(strings.ToLower(e.Name), strings.ToLower(req.Query)) &&
			!strings.Contains(strings.ToLower(e.Namespace), strings.ToLower(req.Query)) {
			continue
		}
		hits = append(hits, e)
	}
	total := len(hits)
	if req.Limit > 0 && len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	if hits == nil {
		hits = []*api.Entry{}
	}
	writeJSON(w, http.StatusOK, api.SearchResponse{Hits: hits, Total: total})
}

func (s *Server) handleAddRelationship(w http.ResponseWriter, r *http.Request) {
	var req api.RelationshipRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Source == "" || req.Target == "" || req.Kind == "" {
		writeError(w, r, api.NewValidationError("relationship", []string{"source, target, and kind are required"}))
		return
	}
	if err := api.GetRegistry().AddRelationship(r.Context(), req.Source, req.Target, req.Kind); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": req.Source})
}

func (s *Server) handlePropagate(w http.ResponseWriter, r *http.Request) {
	var req api.PropagateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sessionID, err := api.GetPropagation().Propagate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := api.GetPropagation().GetSession(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleHotSwap(w http.ResponseWriter, r *http.Request) {
	var req api.HotSwapRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	transitionID, err := api.GetHotSwap().Swap(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transition_id": transitionID})
}

func (s *Server) handleGetTransition(w http.ResponseWriter, r *http.Request) {
	tr, err := api.GetHotSwap().GetTransition(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]api.ComponentHealth{}
	healthy := true

	check := func(name string, present bool) {
		if present {
			components[name] = api.ComponentHealth{Status: "ok"}
			return
		}
		components[name] = api.ComponentHealth{Status: "unavailable", Message: "handler not registered"}
		healthy = false
	}
	check("registry", api.GetRegistry() != nil)
	check("bus", api.GetBus() != nil)
	check("streaming", api.GetStreaming() != nil)
	check("propagation", api.GetPropagation() != nil)
	check("hotswap", api.GetHotSwap() != nil)
	check("bridge", api.GetBridge() != nil)

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, api.HealthStatus{Status: status, Components: components})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.GetRegistry().Stats())
}
