package api

import (
	"net/http"
	"strings"

	"github.com/querygate/querygate/internal/observability"
)

type queryRequest struct {
	NaturalLanguageQuery string `json:"natural_language_query"`
}

type queryResponse struct {
	Query               string   `json:"query"`
	NormalizedQuery     string   `json:"normalized_query"`
	GrammarValid        bool     `json:"grammar_valid"`
	Provider            string   `json:"provider"`
	Model               string   `json:"model"`
	Columns             []string `json:"columns"`
	Rows                [][]any  `json:"rows"`
	RowCount            int      `json:"row_count"`
	GenerationLatencyMS float64  `json:"generation_latency_ms"`
	ExecutionLatencyMS  float64  `json:"execution_latency_ms"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request queryRequest
	if err := decodeJSON(w, r, &request, false); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.NaturalLanguageQuery) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "natural_language_query is required", false, nil)
		return
	}

	rt := deps.Runtimes.Runtime()
	answer, err := rt.Answer(r.Context(), observability.TraceIDFromContext(r.Context()), request.NaturalLanguageQuery)
	if err != nil {
		writeFailure(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Query:               answer.Query.RawText,
		NormalizedQuery:     answer.Normalized,
		GrammarValid:        answer.Query.GrammarValid,
		Provider:            answer.Query.Provider,
		Model:               answer.Query.Model,
		Columns:             answer.Result.Columns,
		Rows:                answer.Result.Rows,
		RowCount:            answer.Result.RowCount,
		GenerationLatencyMS: answer.Query.LatencyMS(),
		ExecutionLatencyMS:  float64(answer.Result.Latency.Microseconds()) / 1000,
	})
}

type validateRequest struct {
	Query string `json:"query"`
}

// handleValidate checks a statement against the grammar without executing it.
func handleValidate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request validateRequest
	if err := decodeJSON(w, r, &request, false); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid validate request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, deps.Runtimes.Runtime().Validator.ValidateText(request.Query))
}

func handleGrammar(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(deps.Runtimes.Runtime().Grammar.Lark()))
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sch := deps.Runtimes.Runtime().Schema
	writeJSON(w, http.StatusOK, map[string]any{
		"tables":      sch.Tables,
		"description": sch.Describe(),
	})
}
