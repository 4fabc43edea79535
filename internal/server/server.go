// Package server exposes the application over HTTP: OAuth endpoints,
// listening stats, the image proxy, the AI artist panel, card rendering,
// and playback control with a server-sent-events state stream.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/melodyhq/melody/internal/card"
	"github.com/melodyhq/melody/internal/config"
	"github.com/melodyhq/melody/internal/domain"
	"github.com/melodyhq/melody/internal/player"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Sessions is the auth surface the handlers need
type Sessions interface {
	BeginLogin() string
	CompleteLogin(ctx context.Context, state string, r *http.Request) (string, error)
	Token(sessionID string) (*oauth2.Token, error)
	TokenFromRequest(r *http.Request) (*oauth2.Token, error)
}

// StatsFactory builds a per-request stats provider from a credential
type StatsFactory func(ctx context.Context, token *oauth2.Token) domain.StatsProvider

// PlayerControl is the coordinator surface the handlers need
type PlayerControl interface {
	Initialize(ctx context.Context, token *oauth2.Token)
	State() domain.PlayerSnapshot
	Subscribe(fn func(domain.PlayerSnapshot)) func()
	PlayTrack(ctx context.Context, uri string)
	TogglePlayback(ctx context.Context)
	SeekToPosition(ctx context.Context, positionMS int)
	NextTrack(ctx context.Context)
	PreviousTrack(ctx context.Context)
}

// PreviewControl is the preview-player surface the handlers need
type PreviewControl interface {
	PlayPreview(ctx context.Context, trackID, previewURL string) error
	Snapshot() domain.PreviewSnapshot
}

// ImageProxy is the fetcher surface the handlers need
type ImageProxy interface {
	Resolve(ctx context.Context, url string) ([]byte, error)
	ResolveDataURL(ctx context.Context, url string) (string, error)
	ContentType(url string) string
}

// CardRenderer is the compositor surface the handlers need
type CardRenderer interface {
	Render(ctx context.Context, req domain.CardRequest) (*card.Artifact, error)
	Cached(r domain.TimeRange) (*card.Artifact, bool)
}

// CardDeliverer walks the share fallback chain for an artifact
type CardDeliverer interface {
	Deliver(ctx context.Context, a *card.Artifact) (string, error)
}

// Server wires the handlers into an echo instance
type Server struct {
	logger     *zap.Logger
	cfg        *config.Config
	echo       *echo.Echo
	sessions   Sessions
	stats      StatsFactory
	player     PlayerControl
	preview    PreviewControl
	proxy      ImageProxy
	cards      CardRenderer
	deliverer  CardDeliverer
	artistInfo domain.ArtistInfoProvider

	// progress extrapolates the playback position between authoritative
	// device updates and absorbs seek drags
	progress *player.Progress
}

// New assembles the HTTP server. All collaborators are required except
// the player, which may be nil when playback is disabled.
func New(
	logger *zap.Logger,
	cfg *config.Config,
	sessions Sessions,
	stats StatsFactory,
	playerCtl PlayerControl,
	preview PreviewControl,
	proxy ImageProxy,
	cards CardRenderer,
	deliverer CardDeliverer,
	artistInfo domain.ArtistInfoProvider,
) *Server {
	s := &Server{
		logger:     logger,
		cfg:        cfg,
		sessions:   sessions,
		stats:      stats,
		player:     playerCtl,
		preview:    preview,
		proxy:      proxy,
		cards:      cards,
		deliverer:  deliverer,
		artistInfo: artistInfo,
		progress:   player.NewProgress(),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(s.requestLogger())
	s.routes(e)
	s.echo = e
	return s
}

func (s *Server) routes(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/login", s.handleLogin)
	e.GET("/callback", s.handleCallback)

	api := e.Group("/api")
	api.GET("/me", s.handleMe)
	api.GET("/top/tracks", s.handleTopTracks)
	api.GET("/top/artists", s.handleTopArtists)
	api.GET("/recent", s.handleRecentlyPlayed)
	api.GET("/proxy-image", s.handleProxyImage)
	api.POST("/ai/artist-info", s.handleArtistInfo)

	api.POST("/card/:range", s.handleCardRender)
	api.GET("/card/:range/download", s.handleCardDownload)
	api.POST("/card/:range/share", s.handleCardShare)

	api.POST("/player/play", s.handlePlayerPlay)
	api.POST("/player/toggle", s.handlePlayerToggle)
	api.POST("/player/seek", s.handlePlayerSeek)
	api.POST("/player/next", s.handlePlayerNext)
	api.POST("/player/previous", s.handlePlayerPrevious)
	api.GET("/player/state", s.handlePlayerState)
	api.GET("/player/events", s.handlePlayerEvents)

	api.POST("/preview/play", s.handlePreviewPlay)
	api.GET("/preview/state", s.handlePreviewState)
}

// Handler exposes the routed instance for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start binds the listen address and blocks until shutdown
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.cfg.ListenAddr))
	err := s.echo.Start(s.cfg.ListenAddr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			s.logger.Debug("Request handled",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("elapsed", time.Since(start)))
			return err
		}
	}
}
