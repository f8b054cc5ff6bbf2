package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shinyyama/messaging-backend/internal/cache"
	"github.com/shinyyama/messaging-backend/internal/handler"
	appmw "github.com/shinyyama/messaging-backend/internal/middleware"
	"github.com/shinyyama/messaging-backend/internal/push"
	"github.com/shinyyama/messaging-backend/internal/repository"
	"github.com/shinyyama/messaging-backend/internal/service"
)

type Deps struct {
	Client *repository.Client
	Auth   *appmw.AuthMiddleware
	// Pusher and Cache are optional.
	Pusher *push.Dispatcher
	Cache  cache.Cache

	SHA       string
	BuildTime string
}

type Server struct {
	e *echo.Echo
}

func New(d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(appmw.RequestID)
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization", appmw.HeaderRequestID},
		AllowCredentials: true,
		AllowOriginFunc:  allowOrigin,
	}))

	convRepo := repository.NewConversationRepository(d.Client)
	msgRepo := repository.NewMessageRepository(d.Client)
	notifRepo := repository.NewNotificationRepository(d.Client)
	presenceRepo := repository.NewPresenceRepository(d.Client)

	notifSvc := service.NewNotificationService(notifRepo, d.Pusher)
	convSvc := service.NewConversationService(d.Client, convRepo, msgRepo, presenceRepo, notifSvc)
	presenceSvc := service.NewPresenceService(presenceRepo, convRepo, d.Cache)

	dataHandler := handler.NewDataHandler(d.Client)
	convHandler := handler.NewConversationHandler(convSvc)
	notifHandler := handler.NewNotificationHandler(notifSvc)
	presenceHandler := handler.NewPresenceHandler(presenceSvc)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"ok":         "true",
			"git_sha":    d.SHA,
			"build_time": d.BuildTime,
		})
	})

	api := e.Group("/api", d.Auth.RequireAuth)

	// the generic data API bypasses participant checks
	api.POST("/data/:model/:operation", dataHandler.Handle, d.Auth.RequireAdmin)

	api.POST("/conversations", convHandler.Create)
	api.GET("/conversations", convHandler.List)
	api.GET("/conversations/:id", convHandler.Get)
	api.DELETE("/conversations/:id", convHandler.Delete)
	api.POST("/conversations/:id/participants", convHandler.AddParticipants)
	api.GET("/conversations/:id/messages", convHandler.ListMessages)
	api.POST("/conversations/:id/messages", convHandler.CreateMessage)
	api.POST("/conversations/:id/read", convHandler.MarkRead)
	api.GET("/conversations/:id/unread", convHandler.UnreadCount)
	api.POST("/conversations/:id/typing", presenceHandler.SetTyping)
	api.GET("/conversations/:id/typing", presenceHandler.Typers)

	api.PATCH("/messages/:msgId", convHandler.EditMessage)
	api.DELETE("/messages/:msgId", convHandler.DeleteMessage)
	api.POST("/messages/:msgId/delivered", convHandler.MarkDelivered)
	api.POST("/messages/:msgId/reactions", convHandler.React)
	api.DELETE("/messages/:msgId/reactions", convHandler.Unreact)
	api.GET("/messages/:msgId/thread", convHandler.GetThread)

	api.GET("/notifications", notifHandler.List)
	api.GET("/notifications/stats", notifHandler.Stats)
	api.POST("/notifications/:id/read", notifHandler.MarkRead)
	api.POST("/notifications/read-all", notifHandler.MarkAllRead)
	api.GET("/me/notification-settings", notifHandler.GetSettings)
	api.PATCH("/me/notification-settings", notifHandler.UpdateSettings)
	api.POST("/me/push-tokens", notifHandler.RegisterPushToken)
	api.DELETE("/me/push-tokens", notifHandler.RemovePushToken)

	if fc := d.Auth.Client(); fc != nil {
		api.GET("/users/:uid/public", handler.NewUserHandler(fc, convSvc).GetPublic)
	}

	api.PUT("/me/presence", presenceHandler.Update)
	api.GET("/presence", presenceHandler.List)
	api.GET("/presence/:uid", presenceHandler.Get)

	return &Server{e: e}
}

func allowOrigin(origin string) (bool, error) {
	low := strings.ToLower(origin)
	if strings.HasPrefix(low, "http://localhost:") || strings.HasPrefix(low, "http://127.0.0.1:") ||
		strings.HasPrefix(low, "https://localhost:") || strings.HasPrefix(low, "https://127.0.0.1:") {
		return true, nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false, nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false, nil
	}
	return strings.HasSuffix(u.Hostname(), "vercel.app"), nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
