package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"flockvet/internal/core"
	"flockvet/internal/db"
	"flockvet/pkg"
)

var errClosed = errors.New("session closed")

// errorHandler writes a JSON error, mapping missing records to 404, invalid
// visit requests to 400 and conflicting state to 409.
func (s *Server) errorHandler(c *gin.Context, status int, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pkg.ErrInvalidVisit):
		status = http.StatusBadRequest
	case errors.Is(err, errClosed), errors.Is(err, pkg.ErrInvalidTransition):
		status = http.StatusConflict
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{
		"status":      "error",
		"description": err.Error(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleCreateSession starts a farmer session and stores the welcome message.
// The body is optional.
func (s *Server) handleCreateSession(c *gin.Context) {
	ctx := c.Request.Context()
	var req pkg.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.errorHandler(c, http.StatusBadRequest, err)
		return
	}
	sess, err := s.Store.CreateSession(ctx, s.MessageCap, optional(req.FarmerName), optional(req.FarmName))
	if err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	welcome := core.WelcomeMessage(s.Chat.Knowledge(), sess.ID)
	if err := s.Store.CreateMessage(ctx, welcome); err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("session created", zap.String("session_id", sess.ID))
	c.JSON(http.StatusCreated, pkg.CreateSessionResponse{SessionID: sess.ID, Welcome: welcome})
}

// handleTranscript returns the messages of a session.
func (s *Server) handleTranscript(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	if _, err := s.Store.GetSession(ctx, sessionID); err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	transcript, err := s.Store.GetTranscript(ctx, sessionID)
	if err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	if transcript == nil {
		transcript = []pkg.Message{}
	}
	c.JSON(http.StatusOK, transcript)
}

// handlePostMessage stores a farmer message, generates the assistant reply
// and schedules a summary refresh.
func (s *Server) handlePostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	var req pkg.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorHandler(c, http.StatusBadRequest, err)
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		s.errorHandler(c, http.StatusBadRequest, errors.New("empty message"))
		return
	}

	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	if sess.ClosedAt != nil {
		s.errorHandler(c, http.StatusConflict, errClosed)
		return
	}

	// Enforce message cap
	count, err := s.Store.CountFarmerMessages(ctx, sessionID)
	if err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	if count >= sess.MessageCap {
		capMsg := core.NewMessage(sessionID, core.CapMessage, false)
		if err := s.Store.CreateMessage(ctx, capMsg); err != nil {
			s.errorHandler(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, pkg.ChatResponse{Reply: capMsg, Capped: true})
		return
	}

	if err := s.Store.CreateMessage(ctx, core.NewMessage(sessionID, content, true)); err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	text, err := s.Chat.Reply(ctx, sessionID, content)
	if err != nil {
		// the reply is still usable; log and carry on
		s.log.Warn("reply degraded", zap.String("session_id", sessionID), zap.Error(err))
	}
	reply := core.NewMessage(sessionID, text, false)
	if err := s.Store.CreateMessage(ctx, reply); err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	s.summarizeAsync(sessionID)
	c.JSON(http.StatusOK, pkg.ChatResponse{Reply: reply})
}

// summarizeAsync recomputes the session summary in the background, stores it
// and notifies veterinary dashboards.
func (s *Server) summarizeAsync(sessionID string) {
	if s.Summarizer == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.summaryTimeout)
		defer cancel()

		transcript, err := s.Store.GetTranscript(ctx, sessionID)
		if err != nil {
			s.log.Error("failed to load transcript", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		summary, err := s.Summarizer.Summarize(ctx, sessionID, transcript)
		if err != nil {
			s.log.Warn("failed to summarise", zap.String("session_id", sessionID), zap.Error(err))
		}
		if summary == nil {
			return
		}
		if err := s.Store.UpsertSummary(ctx, summary); err != nil {
			s.log.Error("failed to upsert summary", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		if summary.Emergency {
			s.log.Warn("emergency reported", zap.String("session_id", sessionID))
		}
		if s.Notifier != nil {
			if err := s.Notifier.Notify(ctx, sessionID); err != nil {
				s.log.Error("failed to notify", zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}()
}

// handleDiagnose runs the matcher on a question without touching any session.
// A missing body is an empty question and gets a fallback reply.
func (s *Server) handleDiagnose(c *gin.Context) {
	var req pkg.DiagnoseRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.errorHandler(c, http.StatusBadRequest, err)
		return
	}
	m := s.Chat.Matcher
	res := m.Match(req.Question)
	resp := pkg.DiagnoseResponse{Kind: string(res.Kind), Score: res.Score, Reply: m.Render(res)}
	if res.Category != nil {
		resp.Category = res.Category.ID
	}
	if res.Disease != nil {
		resp.Disease = res.Disease.ID
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDiseases(c *gin.Context) {
	c.JSON(http.StatusOK, s.Chat.Knowledge().Diseases)
}

func (s *Server) handleDisease(c *gin.Context) {
	d, ok := s.Chat.Knowledge().Disease(c.Param("id"))
	if !ok {
		s.errorHandler(c, http.StatusNotFound, errors.New("unknown disease "+c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, gin.H{"disease": d, "profile": core.FormatDisease(d)})
}

func (s *Server) handleSuggestions(c *gin.Context) {
	c.JSON(http.StatusOK, s.Chat.Knowledge().Suggestions)
}

// handleVetSessions lists open sessions for the veterinary dashboard.
func (s *Server) handleVetSessions(c *gin.Context) {
	sessions, err := s.Store.ListActiveSessions(c.Request.Context())
	if err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// handleVetSession returns a session with its summary and transcript.
func (s *Server) handleVetSession(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	summary, err := s.Store.GetSummary(ctx, sessionID)
	if err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	transcript, err := s.Store.GetTranscript(ctx, sessionID)
	if err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	if claims, ok := currentClaims(c); ok {
		s.log.Info("session viewed", zap.String("session_id", sessionID), zap.String("by", claims.Subject))
	}
	c.JSON(http.StatusOK, gin.H{
		"session":    sess,
		"summary":    summary,
		"transcript": transcript,
	})
}

// handleVetStream streams summary updates for a session using SSE: the
// current summary first, then one event per notification for the session,
// until the client goes away.
func (s *Server) handleVetStream(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	if _, err := s.Store.GetSession(ctx, sessionID); err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	if s.Alerts == nil {
		s.errorHandler(c, http.StatusServiceUnavailable, errors.New("streaming unavailable"))
		return
	}
	updates, unsubscribe := s.Alerts.Subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	if err := s.sendSummaryEvent(c, sessionID); err != nil {
		s.log.Warn("failed to send summary event", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-updates:
			if !ok {
				return
			}
			if id != sessionID {
				continue
			}
			if err := s.sendSummaryEvent(c, sessionID); err != nil {
				s.log.Warn("failed to send summary event", zap.String("session_id", sessionID), zap.Error(err))
				return
			}
		}
	}
}

// sendSummaryEvent writes a summary_update event for the session, or only
// flushes the headers if no summary exists yet.
func (s *Server) sendSummaryEvent(c *gin.Context, sessionID string) error {
	summary, err := s.Store.GetSummary(c.Request.Context(), sessionID)
	if err != nil {
		return err
	}
	if summary != nil {
		c.SSEvent("summary_update", summary)
	}
	c.Writer.Flush()
	return nil
}

// handleRequestVisit lets a farmer ask for a farm visit from a session.
func (s *Server) handleRequestVisit(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	var req pkg.CreateVisitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorHandler(c, http.StatusBadRequest, err)
		return
	}
	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	if sess.ClosedAt != nil {
		s.errorHandler(c, http.StatusConflict, errClosed)
		return
	}
	summary, err := s.Store.GetSummary(ctx, sessionID)
	if err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	visit, err := core.NewVisit(sessionID, req, summary)
	if err != nil {
		s.errorHandler(c, http.StatusBadRequest, err)
		return
	}
	if err := s.Store.CreateVisit(ctx, visit); err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("visit requested",
		zap.String("session_id", sessionID),
		zap.String("visit_id", visit.ID),
		zap.String("priority", string(visit.Priority)))
	c.JSON(http.StatusCreated, visit)
}

// handleSessionVisits lists the visits requested from a session.
func (s *Server) handleSessionVisits(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	if _, err := s.Store.GetSession(ctx, sessionID); err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	visits, err := s.Store.ListVisits(ctx, pkg.VisitFilter{SessionID: sessionID})
	if err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, visits)
}

// handleVetVisits lists visits for the dashboard, optionally filtered by
// status and session_id query parameters.
func (s *Server) handleVetVisits(c *gin.Context) {
	f := pkg.VisitFilter{
		SessionID: c.Query("session_id"),
		Status:    pkg.VisitStatus(c.Query("status")),
	}
	if f.Status != "" && !f.Status.Valid() {
		s.errorHandler(c, http.StatusBadRequest, errors.New("unknown status "+string(f.Status)))
		return
	}
	visits, err := s.Store.ListVisits(c.Request.Context(), f)
	if err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, visits)
}

// handleUpdateVisit moves a visit through its lifecycle.
func (s *Server) handleUpdateVisit(c *gin.Context) {
	var u pkg.VisitUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		s.errorHandler(c, http.StatusBadRequest, err)
		return
	}
	visit, err := s.Store.UpdateVisitStatus(c.Request.Context(), c.Param("id"), u)
	if err != nil {
		s.errorHandler(c, http.StatusInternalServerError, err)
		return
	}
	fields := []zap.Field{zap.String("visit_id", visit.ID), zap.String("status", string(visit.Status))}
	if claims, ok := currentClaims(c); ok {
		fields = append(fields, zap.String("by", claims.Subject))
	}
	s.log.Info("visit updated", fields...)
	c.JSON(http.StatusOK, visit)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
