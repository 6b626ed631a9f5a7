package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/agoramesh/agora/internal/discovery"
	"github.com/agoramesh/agora/internal/registry"
	"github.com/agoramesh/agora/pkg/market"
)

// --- Tool lifecycle ---

func (s *Server) handleRegisterTool(w http.ResponseWriter, r *http.Request) {
	var spec registry.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}

	def, err := s.deps.Registry.Register(r.Context(), caller(r), spec)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := market.ToolFilter{
		Category:   q.Get("category"),
		Tag:        q.Get("tag"),
		MaxCostWei: q.Get("max_cost_wei"),
	}
	if q.Get("mine") == "true" && caller(r) != "" {
		// An owner sees their whole inventory, private and inactive included.
		filter.OwnerID = caller(r)
	} else {
		filter.OnlyPublic = true
		filter.OnlyActive = true
	}

	defs, err := s.deps.Registry.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if defs == nil {
		defs = []market.ToolDefinition{}
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	def, err := s.deps.Registry.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	// Private tools are indistinguishable from missing ones for non-owners.
	if !def.Metadata.IsPublic && def.OwnerID != caller(r) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleUpdateTool(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.callerOwns(w, r, id) {
		return
	}

	var patch registry.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}

	def, err := s.deps.Registry.Update(r.Context(), id, patch)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleDeactivateTool(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.callerOwns(w, r, id) {
		return
	}

	flipped, err := s.deps.Registry.Deactivate(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deactivated": flipped})
}

// callerOwns resolves a tool and verifies the caller owns it, writing the
// error response itself when not. Unknown and foreign tools both read as 404
// so ownership cannot be probed.
func (s *Server) callerOwns(w http.ResponseWriter, r *http.Request, toolID string) bool {
	def, err := s.deps.Registry.GetByID(r.Context(), toolID)
	if err != nil {
		writeDomainError(w, r, err)
		return false
	}
	if def.OwnerID != caller(r) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return false
	}
	return true
}

// --- Discovery ---

type searchResponse struct {
	Results []discovery.Result `json:"results"`

	// Suggestions holds "did you mean" tool names, only present when the
	// semantic search came back empty.
	Suggestions []string `json:"suggestions,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	filter := discovery.Filter{
		Category:   q.Get("category"),
		MaxCostWei: q.Get("max_cost_wei"),
		Tag:        q.Get("tag"),
	}
	limit := queryInt(r, "limit", discovery.DefaultLimit)

	results, err := s.deps.Discovery.SearchGlobal(r.Context(), query, filter, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := searchResponse{Results: results}
	if resp.Results == nil {
		resp.Results = []discovery.Result{}
	}
	if len(results) == 0 {
		if names, err := s.deps.Discovery.Suggest(r.Context(), query, limit); err == nil {
			resp.Suggestions = names
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearchOwn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	results, err := s.deps.Discovery.SearchOwner(r.Context(), caller(r), q.Get("q"), q.Get("category"),
		queryInt(r, "limit", discovery.DefaultLimit))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if results == nil {
		results = []discovery.Result{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Discovery.Popular(r.Context(), discovery.Filter{
		Category: r.URL.Query().Get("category"),
		Tag:      r.URL.Query().Get("tag"),
	}, queryInt(r, "limit", discovery.DefaultLimit))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.deps.Discovery.Categories(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

// --- Execution and ledger ---

type executeRequest struct {
	Parameters map[string]any `json:"parameters"`
	SessionID  string         `json:"sessionId"`
}

type executeResponse struct {
	RecordID string                   `json:"recordId"`
	Response market.ExecutionResponse `json:"response"`
	Billing  market.Billing           `json:"billing"`
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}

	rec, err := s.deps.Engine.Execute(r.Context(), r.PathValue("id"), req.Parameters, caller(r), req.SessionID)
	if err != nil {
		// Validation and dispatch failures still carry a ledger record; the
		// caller gets both the error status and the recorded outcome.
		var ve *market.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, struct {
				errorBody
				RecordID string `json:"recordId,omitempty"`
			}{errorBody{Error: "validation failed", Issues: ve.Issues}, rec.ID})
			return
		}
		if errors.Is(err, market.ErrExecutionFailed) {
			writeJSON(w, http.StatusBadGateway, struct {
				errorBody
				RecordID string                   `json:"recordId,omitempty"`
				Response market.ExecutionResponse `json:"response"`
			}{errorBody{Error: rec.Response.Error}, rec.ID, rec.Response})
			return
		}
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		RecordID: rec.ID,
		Response: rec.Response,
		Billing:  rec.Billing,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	filter := market.UsageFilter{CallerID: caller(r)}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "since must be RFC 3339"})
			return
		}
		filter.Since = since
	}
	if toolID := r.URL.Query().Get("tool_id"); toolID != "" {
		filter.ToolIDs = []string{toolID}
	}

	records, err := s.deps.Usage.QueryUsage(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if records == nil {
		records = []market.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

type settleRequest struct {
	TransactionHash string `json:"transactionHash"`
}

// handleSettle is the settlement collaborator's write-back: it marks one
// usage record as paid. This is the only mutation the ledger accepts after
// insert.
func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.TransactionHash == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "transactionHash is required"})
		return
	}

	if err := s.deps.Usage.MarkPaid(r.Context(), r.PathValue("id"), req.TransactionHash, time.Now().UTC()); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

// --- Analytics ---

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Analytics.SummaryFor(r.Context(), caller(r),
		r.URL.Query().Get("timeframe"), r.URL.Query().Get("group_by"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleAnalyticsRevenue(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Analytics.RevenueFor(r.Context(), caller(r), r.URL.Query().Get("timeframe"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAnalyticsPerformance(w http.ResponseWriter, r *http.Request) {
	perfs, err := s.deps.Analytics.PerformanceFor(r.Context(), caller(r), r.URL.Query().Get("tool_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perfs)
}
