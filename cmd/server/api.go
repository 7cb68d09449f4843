package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/app"
	"github.com/tutorlive/backend/internal/auth"
	"github.com/tutorlive/backend/internal/middleware"
	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/internal/notify"
	"github.com/tutorlive/backend/internal/oauth"
	"github.com/tutorlive/backend/internal/realtime"
	"github.com/tutorlive/backend/internal/recorder"
	"github.com/tutorlive/backend/internal/recordings"
	"github.com/tutorlive/backend/internal/sessions"
	"github.com/tutorlive/backend/pkg/response"
)

func apiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run the HTTP API (default)",
		RunE:  func(cmd *cobra.Command, _ []string) error { return runAPI(cmd.Context()) },
	}
}

func runAPI(parent context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer core.Close()
	if err := core.Migrate(ctx); err != nil {
		return err
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	hub := realtime.NewHub(logger, core.PubSub)
	defer hub.Close()

	// Recording agents
	var agents sessions.AgentStarter
	var manager *recorder.Manager
	if cfg.Recorder.Enabled {
		rc := cfg.Recorder
		manager = recorder.NewManager(recorder.Config{
			OutputDir:       rc.OutputDir,
			ProfileDir:      rc.ProfileDir,
			JoinTimeout:     rc.JoinTimeout,
			MonitorInterval: rc.MonitorInterval,
			MaxDuration:     rc.MaxDuration,
			JoinSelectors:   rc.JoinSelectors,
			LeaveSelectors:  rc.LeaveSelectors,
		},
			func() recorder.Browser {
				return recorder.NewChromeBrowser(recorder.ChromeConfig{ExecPath: rc.ChromePath, Headless: rc.Headless, Display: rc.Display}, logger)
			},
			func() recorder.Capturer {
				return recorder.NewFFmpegCapture(recorder.FFmpegConfig{Path: rc.FFmpegPath, Display: rc.Display, AudioSource: rc.AudioSource}, logger)
			},
			core.S3, core.Publisher, core.Sessions, logger)
		agents = manager
		go func() {
			if err := core.Stops.Listen(ctx, manager); err != nil {
				logger.Error("agent stop listener", zap.Error(err))
			}
		}()
	}

	// Sessions
	svc := sessions.NewService(core.Sessions, core.Classes, core.Classes, core.Finalizer, core.Calendar, agents, core.Notifier,
		sessions.ServiceConfig{RecentWindow: cfg.Lifecycle.RecentWindow, MeetingLength: cfg.Lifecycle.DefaultMeetingLength}, logger)
	sessionHandler := sessions.NewHandler(svc, logger)

	// Recordings
	recordingHandler := recordings.NewHandler(core.Replays, core.Classes, core.Sessions, core.Queue, logger)
	agentHandler := recorder.NewHandler(core.Sessions, manager, logger)

	// Calendar consent and notifications
	oauthHandler := oauth.NewHandler(core.Tokens, logger)
	notifyHandler := notify.NewHandler(core.Notifier, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.CORSPolicy{
		Origins: cfg.Server.CORSAllowedOrigins,
		Methods: cfg.Server.CORSAllowedMethods,
		Headers: cfg.Server.CORSAllowedHeaders,
		MaxAge:  cfg.Server.CORSMaxAge,
	}))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// OAuth callback (no JWT; state identifies the tutor)
	router.GET("/oauth/google/callback", oauthHandler.Callback)

	// Protected API (JWT required)
	tutorOnly := middleware.RequireRole(models.RoleTutor, models.RoleAdmin)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Sessions
		api.POST("/classes/:id/sessions", tutorOnly, sessionHandler.Start)
		api.GET("/classes/:id/sessions/current", sessionHandler.Current)
		api.POST("/sessions/:id/end", tutorOnly, sessionHandler.End)

		// Replays and recording pipeline
		api.GET("/classes/:id/replays", recordingHandler.ListByClass)
		api.POST("/replays/:id/view", recordingHandler.View)
		api.POST("/sessions/:id/recording/retrieve", tutorOnly, recordingHandler.Retrieve)
		api.GET("/sessions/:id/recording/agent", tutorOnly, agentHandler.Status)

		// Calendar consent
		api.GET("/oauth/google/connect", tutorOnly, oauthHandler.Connect)
		api.DELETE("/oauth/google", tutorOnly, oauthHandler.Disconnect)

		// Notifications
		api.GET("/notifications", notifyHandler.List)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", middleware.QueryJWT(jwtService), realtime.ServeWs(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	var bg *app.Background
	if cfg.Server.RunDetectors {
		bg = core.StartBackground()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.Error("server", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if bg != nil {
		bg.Stop(shutdownCtx, core.Finalizer)
	}
	svc.Wait()
	if manager != nil {
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("recording agents still running at shutdown", zap.Int("active", manager.Active()))
		}
	}
	logger.Info("server stopped")
	return nil
}
