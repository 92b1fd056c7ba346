// Package api is the command surface the UI drives: start and cancel
// streams, test credentials, trigger captures and write the clipboard.
// Results of long-running work arrive as events, not as responses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zenreply/zenreply/internal/capture"
	"github.com/zenreply/zenreply/internal/llm"
	"github.com/zenreply/zenreply/internal/prompt"
)

const maxRequestBody = 1 << 20

// Completer is the streaming client.
type Completer interface {
	StreamCompletion(ctx context.Context, requestID, prompt string, creds llm.Credentials) error
	Cancel(requestID string)
	TestConnection(ctx context.Context, creds llm.Credentials) (string, error)
}

// Trigger starts a background capture.
type Trigger interface {
	Trigger() (string, error)
}

// ClipboardWriter replaces the clipboard content.
type ClipboardWriter interface {
	WriteText(text string) error
}

type Handler struct {
	completer Completer
	capture   Trigger
	clipboard ClipboardWriter
	mux       *http.ServeMux
}

func NewHandler(completer Completer, capture Trigger, clipboard ClipboardWriter) *Handler {
	h := &Handler{
		completer: completer,
		capture:   capture,
		clipboard: clipboard,
		mux:       http.NewServeMux(),
	}
	h.mux.HandleFunc("POST /v1/stream", h.handleStream)
	h.mux.HandleFunc("POST /v1/cancel", h.handleCancel)
	h.mux.HandleFunc("POST /v1/test-connection", h.handleTestConnection)
	h.mux.HandleFunc("POST /v1/capture", h.handleCapture)
	h.mux.HandleFunc("POST /v1/clipboard", h.handleClipboard)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)

	log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Dur("duration", time.Since(start)).
		Msg("handled request")
}

// StreamRequest starts one generation. Prompt, when set, is sent verbatim;
// otherwise it is built from the prompt.Input fields.
type StreamRequest struct {
	RequestID string `json:"requestId,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	prompt.Input
	llm.Credentials
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	var req StreamRequest
	if !decode(w, r, &req) {
		return
	}

	text := strings.TrimSpace(req.Prompt)
	if text == "" {
		built, err := prompt.Build(req.Input)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		text = built
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if err := h.completer.StreamCompletion(r.Context(), requestID, text, req.Credentials); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"requestId": requestID,
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"requestId": requestID})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestID string `json:"requestId"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.RequestID != "" {
		h.completer.Cancel(req.RequestID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var creds llm.Credentials
	if !decode(w, r, &creds) {
		return
	}
	msg, err := h.completer.TestConnection(r.Context(), creds)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (h *Handler) handleCapture(w http.ResponseWriter, _ *http.Request) {
	session, err := h.capture.Trigger()
	if errors.Is(err, capture.ErrCaptureInFlight) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session": session})
}

func (h *Handler) handleClipboard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.clipboard.WriteText(req.Text); err != nil {
		log.Error().Err(err).Msg("clipboard write failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body. An empty body decodes as the zero value.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, err)
	return false
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
