package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/melodyhq/melody/internal/domain"
	"go.uber.org/zap"
)

// progressTick is the cadence of locally extrapolated position events on
// the state stream
const progressTick = time.Second

type snapshotJSON struct {
	DeviceID   string     `json:"deviceId,omitempty"`
	IsReady    bool       `json:"isReady"`
	IsActive   bool       `json:"isActive"`
	Track      *trackJSON `json:"track,omitempty"`
	IsPlaying  bool       `json:"isPlaying"`
	PositionMS int        `json:"positionMs"`
	DurationMS int        `json:"durationMs"`
}

func snapshotToJSON(s domain.PlayerSnapshot) snapshotJSON {
	out := snapshotJSON{
		DeviceID:   s.DeviceID,
		IsReady:    s.IsReady,
		IsActive:   s.IsActive,
		IsPlaying:  s.IsPlaying,
		PositionMS: s.PositionMS,
		DurationMS: s.DurationMS,
	}
	if s.CurrentTrack != nil {
		t := trackToJSON(*s.CurrentTrack)
		out.Track = &t
	}
	return out
}

// requirePlayback gates device-control endpoints behind the feature flag
func (s *Server) requirePlayback() error {
	if !s.cfg.EnablePlayback || s.player == nil {
		return echo.NewHTTPError(http.StatusConflict, "playback disabled, preview mode only")
	}
	return nil
}

func (s *Server) handlePlayerPlay(c echo.Context) error {
	if err := s.requirePlayback(); err != nil {
		return err
	}
	var req struct {
		URI string `json:"uri"`
	}
	if err := c.Bind(&req); err != nil || req.URI == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "uri required")
	}

	s.player.PlayTrack(c.Request().Context(), req.URI)
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handlePlayerToggle(c echo.Context) error {
	if err := s.requirePlayback(); err != nil {
		return err
	}
	s.player.TogglePlayback(c.Request().Context())
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handlePlayerSeek supports two shapes: a bare positionMs performs an
// immediate seek, while phase begin/update/end drives a drag. During a drag
// the event stream shows the drag value; only end issues the device command.
func (s *Server) handlePlayerSeek(c echo.Context) error {
	if err := s.requirePlayback(); err != nil {
		return err
	}
	var req struct {
		PositionMS *int   `json:"positionMs"`
		Phase      string `json:"phase"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Phase != "end" && (req.PositionMS == nil || *req.PositionMS < 0) {
		return echo.NewHTTPError(http.StatusBadRequest, "positionMs required")
	}

	switch req.Phase {
	case "begin":
		s.progress.BeginSeek(*req.PositionMS)
	case "update":
		s.progress.UpdateSeek(*req.PositionMS)
	case "end":
		if !s.progress.Seeking() {
			// end without a drag in flight degrades to an immediate seek
			if req.PositionMS == nil || *req.PositionMS < 0 {
				return echo.NewHTTPError(http.StatusBadRequest, "positionMs required")
			}
			s.player.SeekToPosition(c.Request().Context(), *req.PositionMS)
			break
		}
		if req.PositionMS != nil {
			s.progress.UpdateSeek(*req.PositionMS)
		}
		s.player.SeekToPosition(c.Request().Context(), s.progress.EndSeek())
	case "":
		s.player.SeekToPosition(c.Request().Context(), *req.PositionMS)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown phase")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handlePlayerNext(c echo.Context) error {
	if err := s.requirePlayback(); err != nil {
		return err
	}
	s.player.NextTrack(c.Request().Context())
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handlePlayerPrevious(c echo.Context) error {
	if err := s.requirePlayback(); err != nil {
		return err
	}
	s.player.PreviousTrack(c.Request().Context())
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handlePlayerState(c echo.Context) error {
	if err := s.requirePlayback(); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snapshotToJSON(s.player.State()))
}

// handlePlayerEvents streams snapshot updates as server-sent events. The
// subscription replay delivers the current state as the first event.
func (s *Server) handlePlayerEvents(c echo.Context) error {
	if err := s.requirePlayback(); err != nil {
		return err
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Slow consumers skip intermediate snapshots rather than stalling
	// the coordinator's notify loop
	updates := make(chan domain.PlayerSnapshot, 8)
	unsubscribe := s.player.Subscribe(func(snap domain.PlayerSnapshot) {
		select {
		case updates <- snap:
		default:
		}
	})
	defer unsubscribe()

	write := func(snap domain.PlayerSnapshot) error {
		payload, err := json.Marshal(snapshotToJSON(snap))
		if err != nil {
			s.logger.Error("Snapshot encode failed", zap.Error(err))
			return nil
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		w.Flush()
		return nil
	}

	// Between authoritative updates the position keeps moving locally, so
	// clients see a smooth progress bar without polling
	ticker := time.NewTicker(progressTick)
	defer ticker.Stop()

	var last *domain.PlayerSnapshot
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-updates:
			s.progress.SetAuthoritative(snap.PositionMS, snap.DurationMS, snap.IsPlaying)
			last = &snap
			if err := write(snap); err != nil {
				return nil
			}
		case <-ticker.C:
			if last == nil || !last.IsPlaying {
				continue
			}
			s.progress.Tick(progressTick)
			snap := *last
			snap.PositionMS = s.progress.PositionMS()
			if err := write(snap); err != nil {
				return nil
			}
		}
	}
}

type previewJSON struct {
	TrackID     string  `json:"trackId,omitempty"`
	IsPlaying   bool    `json:"isPlaying"`
	CurrentSec  float64 `json:"currentSec"`
	DurationSec float64 `json:"durationSec"`
}

func previewToJSON(s domain.PreviewSnapshot) previewJSON {
	return previewJSON{
		TrackID:     s.TrackID,
		IsPlaying:   s.IsPlaying,
		CurrentSec:  s.CurrentSec,
		DurationSec: s.DurationSec,
	}
}

func (s *Server) handlePreviewPlay(c echo.Context) error {
	var req struct {
		TrackID    string `json:"trackId"`
		PreviewURL string `json:"previewUrl"`
	}
	if err := c.Bind(&req); err != nil || req.TrackID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "trackId required")
	}

	if err := s.preview.PlayPreview(c.Request().Context(), req.TrackID, req.PreviewURL); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "preview fetch failed")
	}
	return c.JSON(http.StatusOK, previewToJSON(s.preview.Snapshot()))
}

func (s *Server) handlePreviewState(c echo.Context) error {
	return c.JSON(http.StatusOK, previewToJSON(s.preview.Snapshot()))
}
