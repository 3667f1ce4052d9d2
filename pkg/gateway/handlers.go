package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harun/ggbconnect/pkg/engine"
	"github.com/harun/ggbconnect/pkg/session"
)

// requestLogger attaches a request id so one request's log lines correlate
func (s *Server) requestLogger(r *http.Request) zerolog.Logger {
	return s.logger.With().
		Str("requestId", uuid.NewString()).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Logger()
}

// writeOpError maps a failed operation to its status code and body
func writeOpError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, notFoundBody, http.StatusNotFound)
	case errors.Is(err, session.ErrTimeout):
		logger.Error().Err(err).Msg("Operation timed out")
		http.Error(w, "Operation timed out", http.StatusGatewayTimeout)
	default:
		logger.Error().Err(err).Msg("Operation failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func expectedParams(w http.ResponseWriter, names string) {
	http.Error(w, "Expected params: "+names, http.StatusBadRequest)
}

// handleHandshake activates a session and advertises its websocket link
func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	logger := s.requestLogger(r)

	sessionID := r.URL.Query().Get("sessionId")
	version := r.URL.Query().Get("version")
	if sessionID == "" || version == "" {
		expectedParams(w, "sessionId, version")
		return
	}

	desc, err := s.manager.Handshake(r.Context(), sessionID, version)
	if err != nil {
		writeOpError(w, logger, err)
		return
	}

	logger.Info().Str("sessionId", sessionID).Msg("Handshake complete")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(desc); err != nil {
		logger.Error().Err(err).Msg("Failed to encode handshake response")
	}
}

// handleCommand forwards one script instruction to a session
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	logger := s.requestLogger(r)

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		expectedParams(w, "sessionId, command")
		return
	}
	if req.SessionID == "" || req.Command == "" {
		expectedParams(w, "sessionId, command")
		return
	}

	if err := s.manager.Command(r.Context(), req.SessionID, req.Command); err != nil {
		writeOpError(w, logger, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleGetCurrSession returns the current document as base64 text
func (s *Server) handleGetCurrSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	logger := s.requestLogger(r)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		expectedParams(w, "sessionId")
		return
	}

	doc, err := s.manager.ExportState64(r.Context(), sessionID, engine.FormatGGB)
	if err != nil {
		writeOpError(w, logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(doc))
}

// handleGetPNG returns the current view as a PNG image
func (s *Server) handleGetPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	logger := s.requestLogger(r)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		expectedParams(w, "sessionId")
		return
	}

	data, err := s.manager.ExportState(r.Context(), sessionID, engine.FormatPNG)
	if err != nil {
		writeOpError(w, logger, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

var exportContentTypes = map[engine.Format]string{
	engine.FormatGGB: "text/plain; charset=utf-8",
	engine.FormatPNG: "image/png",
	engine.FormatPDF: "application/pdf",
	engine.FormatSVG: "image/svg+xml",
}

// handleExport returns the current state in any supported format
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	logger := s.requestLogger(r)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		expectedParams(w, "sessionId, format")
		return
	}

	format, err := engine.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, "Expected params: format must be one of ggb, png, pdf, svg", http.StatusBadRequest)
		return
	}

	// The document format stays base64 text; binary formats return raw bytes
	if format == engine.FormatGGB {
		doc, err := s.manager.ExportState64(r.Context(), sessionID, format)
		if err != nil {
			writeOpError(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", exportContentTypes[format])
		_, _ = w.Write([]byte(doc))
		return
	}

	data, err := s.manager.ExportState(r.Context(), sessionID, format)
	if err != nil {
		writeOpError(w, logger, err)
		return
	}

	w.Header().Set("Content-Type", exportContentTypes[format])
	_, _ = w.Write(data)
}

// handleSaveCurrSession persists the current document and echoes it back
func (s *Server) handleSaveCurrSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	logger := s.requestLogger(r)

	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		expectedParams(w, "id")
		return
	}
	if req.ID == "" {
		expectedParams(w, "id")
		return
	}

	doc, err := s.manager.Persist(r.Context(), req.ID)
	if err != nil {
		writeOpError(w, logger, err)
		return
	}

	logger.Info().Str("sessionId", req.ID).Msg("Session saved")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(doc))
}

// handleRelease frees a session's engine handle and removes it
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	logger := s.requestLogger(r)

	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		expectedParams(w, "sessionId")
		return
	}
	if req.SessionID == "" {
		expectedParams(w, "sessionId")
		return
	}

	if err := s.manager.Release(r.Context(), req.SessionID); err != nil {
		writeOpError(w, logger, err)
		return
	}

	logger.Info().Str("sessionId", req.SessionID).Msg("Session released")

	w.WriteHeader(http.StatusOK)
}
