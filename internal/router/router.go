package router // package router registers the HTTP routes of the account service

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/videotube-accounts/internal/config"
	"github.com/iliyamo/videotube-accounts/internal/handler"
	"github.com/iliyamo/videotube-accounts/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication and
// are not rate limited. check backs the /healthz probe.
func RegisterRoutes(e *echo.Echo, check func(context.Context) error) {
	e.GET("/healthz", handler.Health(check))
}

// RegisterAccounts mounts the account routes under /api/v1/users. Every
// route shares one token bucket; the channel profile is additionally cached.
func RegisterAccounts(e *echo.Echo, h *handler.AccountHandler, auth middleware.Authenticator, cfg config.Config, rdb *redis.Client) {
	g := e.Group("/api/v1/users")
	limit := middleware.NewTokenBucket(cfg.RateLimit, rdb)
	authTimeout := authTimeout(cfg.RequestTimeout)

	// Session entry points: no access token needed.
	g.POST("/register", h.Register, limit)
	g.POST("/login", h.Login, limit)
	g.POST("/refresh-token", h.RefreshToken, limit)

	// The channel view is public, but the viewer (if any) decides isSubscribed,
	// so the identity must be resolved before the limiter and cache key on it.
	g.GET("/channel/:username", h.ChannelProfile,
		middleware.OptionalJWT(auth, authTimeout), limit, middleware.NewRedisCache(cfg.Cache, rdb))

	// Attached per route: a Group with middleware would also guard the
	// group's not-found handler, turning 404/405 into 401.
	secured := []echo.MiddlewareFunc{middleware.VerifyJWT(auth, authTimeout), limit}
	g.POST("/logout", h.Logout, secured...)
	g.POST("/change-password", h.ChangePassword, secured...)
	g.GET("/current", h.Current, secured...)
	g.PATCH("/update-account", h.UpdateAccount, secured...)
	g.PATCH("/avatar", h.UpdateAvatar, secured...)
	g.PATCH("/cover-image", h.UpdateCoverImage, secured...)
	g.POST("/channel/:username/subscribe", h.ToggleSubscription, secured...)
	g.GET("/history", h.WatchHistory, secured...)
}

func authTimeout(requestTimeout time.Duration) time.Duration {
	if requestTimeout <= 0 {
		return 5 * time.Second
	}
	return requestTimeout
}
