package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"flockvet/internal/auth"
	"flockvet/internal/core"
	"flockvet/pkg"
)

// Store is the transcript persistence used by the handlers.  db.Repository
// implements it.
type Store interface {
	CreateSession(ctx context.Context, messageCap int, farmerName, farmName *string) (*pkg.Session, error)
	GetSession(ctx context.Context, sessionID string) (*pkg.Session, error)
	CreateMessage(ctx context.Context, m pkg.Message) error
	GetTranscript(ctx context.Context, sessionID string) ([]pkg.Message, error)
	CountFarmerMessages(ctx context.Context, sessionID string) (int, error)
	UpsertSummary(ctx context.Context, s *pkg.Summary) error
	GetSummary(ctx context.Context, sessionID string) (*pkg.Summary, error)
	ListActiveSessions(ctx context.Context) ([]pkg.VetSessionPreview, error)
	CreateVisit(ctx context.Context, v pkg.Visit) error
	ListVisits(ctx context.Context, f pkg.VisitFilter) ([]pkg.Visit, error)
	UpdateVisitStatus(ctx context.Context, visitID string, u pkg.VisitUpdate) (*pkg.Visit, error)
}

// Notifier announces that a session summary changed.
type Notifier interface {
	Notify(ctx context.Context, sessionID string) error
}

// Subscriber hands out streams of changed session IDs.  alerts.Hub
// implements it.
type Subscriber interface {
	Subscribe() (<-chan string, func())
}

// Deps bundles the collaborators of a Server.
type Deps struct {
	Store      Store
	Chat       *core.ChatService
	Summarizer *core.Summarizer
	Notifier   Notifier
	Alerts     Subscriber
	Tokens     *auth.TokenService
	MessageCap int
	Logger     *zap.Logger
}

// Server bundles together the dependencies required by HTTP handlers.  It
// implements http.Handler so it can be passed to an http.Server.
type Server struct {
	Deps
	engine *gin.Engine
	log    *zap.Logger
	wg     sync.WaitGroup

	// summaryTimeout bounds each background summarisation.
	summaryTimeout time.Duration
}

// NewServer constructs a Server and registers its routes.
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{Deps: d, log: logger, summaryTimeout: 30 * time.Second}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	s.RegisterHandler(engine)
	s.engine = engine
	return s
}

// RegisterHandler registers every route on router.
func (s *Server) RegisterHandler(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")
	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions/:id/messages", s.handleTranscript)
	api.POST("/sessions/:id/messages", s.handlePostMessage)
	api.GET("/sessions/:id/visits", s.handleSessionVisits)
	api.POST("/sessions/:id/visits", s.handleRequestVisit)
	api.POST("/diagnose", s.handleDiagnose)
	api.GET("/diseases", s.handleDiseases)
	api.GET("/diseases/:id", s.handleDisease)
	api.GET("/suggestions", s.handleSuggestions)

	vet := api.Group("/vet", RequireRole(s.Tokens, auth.RoleVeterinary, auth.RoleAdmin))
	vet.GET("/sessions", s.handleVetSessions)
	vet.GET("/sessions/:id", s.handleVetSession)
	vet.GET("/sessions/:id/stream", s.handleVetStream)
	vet.GET("/visits", s.handleVetVisits)
	vet.PATCH("/visits/:id", s.handleUpdateVisit)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Wait blocks until background summarisations have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
