package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/querygate/querygate/internal/eval"
	"github.com/querygate/querygate/internal/history"
)

const streamWriteTimeout = 10 * time.Second

type evaluateRequest struct {
	// Cases replaces the configured fixtures for this run.
	Cases []eval.TestCase `json:"cases"`
}

func handleEvaluate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request evaluateRequest
	if err := decodeJSON(w, r, &request, true); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid evaluate request body", false, map[string]any{"details": err.Error()})
		return
	}
	report, err := deps.Runtimes.Runtime().Evaluate(r.Context(), request.Cases, nil)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FIXTURES", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type streamMessage struct {
	Type     string         `json:"type"`
	Progress *eval.Progress `json:"progress,omitempty"`
	Report   *eval.Report   `json:"report,omitempty"`
	Message  string         `json:"message,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleEvaluateStream runs the configured fixtures and pushes one message per finished
// case, then the report. Closing the socket cancels the run.
func handleEvaluateStream(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
		}
		return
	}
	defer func() { _ = conn.Close() }()
	// The server read timeout still applies to the hijacked connection.
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	var writeMu sync.Mutex
	send := func(msg streamMessage) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			cancel()
		}
	}

	report, err := deps.Runtimes.Runtime().Evaluate(ctx, nil, func(p eval.Progress) {
		send(streamMessage{Type: "progress", Progress: &p})
	})
	if err != nil {
		send(streamMessage{Type: "error", Message: err.Error()})
		return
	}
	send(streamMessage{Type: "report", Report: &report})

	writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), time.Now().Add(time.Second))
	writeMu.Unlock()
}

func handleListEvaluations(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500", false, nil)
			return
		}
		limit = parsed
	}
	runs, err := deps.Runtimes.Runtime().History.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to list evaluation runs", true, map[string]any{"details": err.Error()})
		return
	}
	if runs == nil {
		runs = []history.RunSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func handleGetEvaluation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	report, err := deps.Runtimes.Runtime().History.GetReport(r.Context(), runID)
	if errors.Is(err, history.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "RUN_NOT_FOUND", "evaluation run was not found", false, map[string]any{"run_id": runID})
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to load evaluation run", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}
