package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/3than777/Elocutionist-sub004/repository"
	"github.com/3than777/Elocutionist-sub004/retry"
	ws "github.com/3than777/Elocutionist-sub004/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Server holds all server dependencies
type Server struct {
	config             *Config
	db                 *repository.Database
	repo               *repository.GORMRepository
	files              *FileStore
	geminiService      *GeminiService
	scheduler          *retry.TimerScheduler
	processor          *ArtifactProcessor
	recordingService   *RecordingService
	sweeper            *ExpirySweeper
	websocketHandler   *WebSocketHandler
	authService        *AuthService
	artifactEndpoints  *ArtifactEndpoints
	interviewEndpoints *InterviewEndpoints
	ratingEndpoints    *RatingEndpoints
	wsHub              *ws.Hub
	upgrader           websocket.Upgrader
}

// NewServer creates a new server instance
func NewServer(config *Config, db *repository.Database) *Server {
	return &Server{
		config: config,
		db:     db,
		repo:   repository.NewGORMRepository(db.DB),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, config.WebSocket.AllowedOrigins)
			},
		},
	}
}

// InitializeServices initializes all server services
func (s *Server) InitializeServices(ctx context.Context) error {
	if err := s.repo.AutoMigrate(); err != nil {
		return err
	}

	if s.config.AI.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY is required")
	}
	if s.config.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required")
	}

	files, err := NewFileStore(s.config.Storage.UploadDir)
	if err != nil {
		return err
	}
	s.files = files

	s.geminiService, err = NewGeminiService(ctx, s.config.AI)
	if err != nil {
		return err
	}
	slog.Info("Gemini service initialized", "model", s.config.AI.Model)

	s.scheduler = retry.NewTimerScheduler()
	s.processor = NewArtifactProcessor(s.repo, NewContentExtractor(s.geminiService), s.config.Processing, s.scheduler)
	artifactService := NewArtifactService(s.repo, s.files, s.processor, s.config.Storage.MaxUploadSize)

	s.recordingService = NewRecordingService(s.repo, s.files, s.geminiService, s.config.Processing.Retry, s.config.Feedback.StaleAfter)
	interviewService := NewInterviewService(s.repo, s.recordingService)
	ratingService := NewRatingService(s.repo, s.geminiService, s.config.Ratings.TTL)
	s.sweeper = NewExpirySweeper(s.repo, ratingService, interviewService, s.recordingService, s.config.Ratings.SweepSchedule, s.config.Sessions.IdleTimeout)

	s.authService = NewAuthService(s.config.JWT.Secret)
	s.artifactEndpoints = NewArtifactEndpoints(artifactService, s.config.Storage.MaxUploadSize)
	s.interviewEndpoints = NewInterviewEndpoints(interviewService, s.recordingService)
	s.ratingEndpoints = NewRatingEndpoints(ratingService, s.sweeper)

	s.wsHub = ws.NewHub()
	s.websocketHandler = NewWebSocketHandler(s.recordingService, s.wsHub)
	slog.Info("Services initialized")

	return nil
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", MetricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.apiV1Handler)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)
			r.Get("/ws", s.websocketHandlerFunc)
			s.artifactEndpoints.RegisterRoutes(r)
			s.interviewEndpoints.RegisterRoutes(r)
			s.ratingEndpoints.RegisterRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)
				s.ratingEndpoints.RegisterAdminRoutes(r)
			})
		})
	})

	return r
}

// Start serves HTTP, the websocket hub and the sweep schedule until ctx is
// done, then shuts everything down.
func (s *Server) Start(ctx context.Context) error {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.wsHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return s.sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server...")

		timeout := s.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
		s.processor.Close()
		return nil
	})

	err := g.Wait()
	slog.Info("Server exited")
	return err
}

// CheckOrigin validates the origin of WebSocket connections to prevent CSRF attacks
func CheckOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	// If no allowed origins are configured, deny all requests for security
	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	for _, allowed := range strings.Split(allowedOriginsStr, ",") {
		if strings.TrimSpace(allowed) == origin {
			slog.Info("WebSocket connection accepted", "origin", origin)
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}

type HealthResponse struct {
	Status             string `json:"status"`
	Database           string `json:"database"`
	StoredFiles        int    `json:"stored_files"`
	StoredBytes        int64  `json:"stored_bytes"`
	PendingReschedules int    `json:"pending_reschedules"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "up"}

	if err := s.db.Ping(r.Context()); err != nil {
		resp.Database = "down"
		resp.Status = "degraded"
	}

	if s.files != nil {
		if count, size, err := s.files.Stats(); err == nil {
			resp.StoredFiles = count
			resp.StoredBytes = size
		} else {
			resp.Status = "degraded"
		}
	}
	if s.scheduler != nil {
		resp.PendingReschedules = s.scheduler.Pending()
	}

	writeJSON(w, http.StatusOK, resp)

	slog.Info("Health check", "status", resp.Status, "database", resp.Database)
}

func (s *Server) apiV1Handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "API v1", "version": "1.0.0"})
}

// websocketHandlerFunc opens the transcript stream of the interview named
// by the interview_id query parameter.
func (s *Server) websocketHandlerFunc(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	interviewID := r.URL.Query().Get("interview_id")
	if interviewID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "interview_id is required")
		return
	}
	// Checked before the upgrade so the client gets a plain HTTP error.
	if _, err := s.recordingService.StartSession(r.Context(), userID, interviewID); err != nil {
		writeAppError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	slog.Info("WebSocket connection established", "user_id", userID, "interview_id", interviewID)
	websocketConnections.Inc()
	defer websocketConnections.Dec()

	client := s.wsHub.RegisterClient(conn, userID, interviewID)
	client.MessageHandler = s.websocketHandler.HandleFrame

	go client.WritePump()
	client.ReadPump()
}
