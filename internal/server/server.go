// Package server exposes the conversational agent over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/akshay-eng/ITSM-agent/internal/logging"
	"github.com/akshay-eng/ITSM-agent/internal/router"
	"github.com/akshay-eng/ITSM-agent/internal/session"
	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

// maxUploadBytes bounds attachment size on /chat.
const maxUploadBytes = 10 << 20

// =============================================================================
// HTTP SERVER
// =============================================================================

// Config configures the HTTP server.
type Config struct {
	Addr string

	// SweepInterval and SessionTTL drive the idle-session janitor. Zero
	// disables it.
	SweepInterval time.Duration
	SessionTTL    time.Duration
}

// Server serves the chat API.
type Server struct {
	cfg      Config
	router   *router.Router
	sessions *session.Store
	logger   *zap.Logger
	httpSrv  *http.Server
}

// New creates a server.
func New(cfg Config, rt *router.Router, sessions *session.Store, logger *zap.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":5019"
	}
	s := &Server{
		cfg:      cfg,
		router:   rt,
		sessions: sessions,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /reset", s.handleReset)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("GET /session/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /workflow-status", s.handleWorkflowStatus)

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is canceled, then drains in-flight requests. The
// idle-session janitor runs alongside when configured.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.SweepInterval > 0 && s.cfg.SessionTTL > 0 {
		go s.janitor(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.cfg.Addr))
		logging.Server("Listening on %s", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) janitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Sweep(s.cfg.SessionTTL); n > 0 {
				s.logger.Info("swept idle sessions", zap.Int("count", n))
			}
		}
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)),
		)
		logging.ServerDebug("%s %s took %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"message":         "ITSM agent API",
		"timestamp":       time.Now().Format(time.RFC3339),
		"active_sessions": len(s.sessions.IDs()),
	})
}

// chatRequest is the JSON body of /chat. Multipart form fields use the same
// names, plus a "file" part for an attachment.
type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	var att *ticket.Attachment

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
			return
		}
		req.Message = r.FormValue("message")
		req.SessionID = r.FormValue("session_id")

		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read uploaded file")
				return
			}
			if len(content) == 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"response": fmt.Sprintf("File %q is empty (0 bytes). Please upload a file with content.", header.Filename),
				})
				return
			}
			if len(content) > maxUploadBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "uploaded file exceeds the size limit")
				return
			}
			att = &ticket.Attachment{Filename: header.Filename, Content: content}
		}
	default:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}

	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}

	reply, err := s.router.Handle(r.Context(), req.SessionID, req.Message, att)
	if err != nil {
		s.logger.Error("chat turn failed", zap.String("session", req.SessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error handling message")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"response":   reply,
		"session_id": req.SessionID,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(r.Body).Decode(&body)
	} else {
		body.SessionID = r.FormValue("session_id")
	}

	var msg string
	if body.SessionID != "" {
		if s.sessions.Reset(body.SessionID) {
			msg = fmt.Sprintf("Session %s reset successfully", body.SessionID)
		} else {
			msg = fmt.Sprintf("Session %s not found", body.SessionID)
		}
	} else {
		n := s.sessions.ResetAll()
		msg = fmt.Sprintf("All workflow states reset successfully (%d sessions)", n)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":   msg,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]interface{})
	ids := s.sessions.IDs()
	for _, id := range ids {
		snap, ok := s.sessions.Snapshot(id)
		if !ok {
			continue
		}
		out[id] = map[string]interface{}{
			"state":               string(snap.Phase),
			"conversation_length": len(snap.History),
			"has_pending_details": snap.Draft != nil,
			"last_activity":       snap.LastActive.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":       out,
		"total_sessions": len(ids),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, ok := s.sessions.Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	history := make([]map[string]string, len(snap.History))
	for i, t := range snap.History {
		history[i] = map[string]string{
			"role":      t.Role,
			"content":   t.Text,
			"timestamp": t.At.Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":           id,
		"conversation_history": history,
		"session_state":        string(snap.Phase),
		"pending_details":      draftFields(snap.Draft),
		"timestamp":            time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		id = "default"
	}

	state := string(session.PhaseIdle)
	var pending map[string]string
	historyLen := 0
	if snap, ok := s.sessions.Snapshot(id); ok {
		state = string(snap.Phase)
		pending = draftFields(snap.Draft)
		historyLen = len(snap.History)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":           id,
		"session_state":        state,
		"pending_confirmation": state == string(session.PhaseAwaitingConfirmation),
		"incident_details":     pending,
		"conversation_length":  historyLen,
		"timestamp":            time.Now().Format(time.RFC3339),
	})
}

func draftFields(d *ticket.Draft) map[string]string {
	if d == nil {
		return map[string]string{}
	}
	return d.Plain()
}
