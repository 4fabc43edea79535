// Package device adapts the vendor's Connect playback surface into the
// domain Device interface. State is observed by polling the player-state
// endpoint and diffing against the last observation; transitions are
// published as normalized events on a buffered channel with one consumer.
package device

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/melodyhq/melody/internal/domain"
	"github.com/zmb3/spotify/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// API is the slice of the vendor client the adapter needs
type API interface {
	PlayerState(ctx context.Context, opts ...spotify.RequestOption) (*spotify.PlayerState, error)
	TransferPlayback(ctx context.Context, deviceID spotify.ID, play bool) error
	PlayOpt(ctx context.Context, opt *spotify.PlayOptions) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Seek(ctx context.Context, position int) error
}

// Factory builds an authenticated vendor client for a credential
type Factory func(token *oauth2.Token) API

// ConnectDevice implements domain.Device over the vendor REST surface
type ConnectDevice struct {
	logger       *zap.Logger
	newClient    Factory
	pollInterval time.Duration
	events       chan domain.DeviceEvent

	mu              sync.Mutex
	running         bool
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	api             API
	lastDropWarning time.Time

	// poll diff state, touched only by the poll goroutine
	ready        bool
	inErrStreak  bool
	lastDeviceID string
	lastTrackID  string
	lastPlaying  bool
	lastPosition int
}

// New creates a Connect device adapter
func New(logger *zap.Logger, newClient Factory, pollInterval time.Duration) *ConnectDevice {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &ConnectDevice{
		logger:       logger,
		newClient:    newClient,
		pollInterval: pollInterval,
		events:       make(chan domain.DeviceEvent, 16),
	}
}

// Events returns the normalized event stream
func (d *ConnectDevice) Events() <-chan domain.DeviceEvent {
	return d.events
}

// Connect builds the authenticated client and starts the poll loop.
// Calling Connect while already connected is a no-op.
func (d *ConnectDevice) Connect(ctx context.Context, token *oauth2.Token) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	if token == nil {
		d.mu.Unlock()
		return errors.New("device: no credential supplied")
	}
	d.running = true
	d.api = d.newClient(token)

	pollCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.mu.Unlock()

	d.logger.Info("Connect device adapter started",
		zap.Duration("pollInterval", d.pollInterval))

	d.wg.Add(1)
	go d.pollLoop(pollCtx)
	return nil
}

// Disconnect stops the poll loop
func (d *ConnectDevice) Disconnect(_ context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	d.logger.Info("Connect device adapter stopped")
	return nil
}

func (d *ConnectDevice) pollLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	// Immediate first poll so readiness does not wait a full interval
	d.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *ConnectDevice) poll(ctx context.Context) {
	state, err := d.client().PlayerState(ctx)
	if err != nil {
		d.handlePollError(err)
		return
	}
	d.inErrStreak = false

	if state == nil || state.Device.ID == "" {
		if d.ready {
			d.ready = false
			d.emit(domain.DeviceEvent{Kind: domain.DeviceNotReady, DeviceID: d.lastDeviceID})
		}
		return
	}

	deviceID := string(state.Device.ID)
	if !d.ready || deviceID != d.lastDeviceID {
		d.ready = true
		d.lastDeviceID = deviceID
		d.emit(domain.DeviceEvent{Kind: domain.DeviceReady, DeviceID: deviceID})
	}

	track := fullTrackToDomain(state.Item)
	trackID := ""
	durationMS := 0
	if track != nil {
		trackID = track.ID
		durationMS = track.DurationMS
	}
	positionMS := int(state.Progress)

	d.mu.Lock()
	unchanged := trackID == d.lastTrackID && state.Playing == d.lastPlaying && positionMS == d.lastPosition
	d.lastTrackID = trackID
	d.lastPlaying = state.Playing
	d.lastPosition = positionMS
	d.mu.Unlock()
	if unchanged {
		return
	}

	d.emit(domain.DeviceEvent{
		Kind:       domain.DeviceStateChanged,
		DeviceID:   deviceID,
		Track:      track,
		Paused:     !state.Playing,
		PositionMS: positionMS,
		DurationMS: durationMS,
	})
}

func (d *ConnectDevice) handlePollError(err error) {
	if d.inErrStreak {
		return // one event per streak is enough
	}
	d.inErrStreak = true

	kind := domain.ErrorPlayback
	var spErr spotify.Error
	if errors.As(err, &spErr) {
		switch spErr.Status {
		case http.StatusUnauthorized:
			kind = domain.ErrorAuthentication
		case http.StatusForbidden:
			kind = domain.ErrorAccount
		}
	} else if !d.ready {
		kind = domain.ErrorInitialization
	}

	d.logger.Error("Player state poll failed",
		zap.String("kind", string(kind)), zap.Error(err))
	d.emit(domain.DeviceEvent{
		Kind:      domain.DeviceError,
		ErrorKind: kind,
		Message:   err.Error(),
	})
}

// emit publishes without blocking the poll loop. Drops are rate-limit
// logged; the consumer keeping up is the normal case.
func (d *ConnectDevice) emit(ev domain.DeviceEvent) {
	select {
	case d.events <- ev:
	default:
		if time.Since(d.lastDropWarning) > 10*time.Second {
			d.lastDropWarning = time.Now()
			d.logger.Warn("Device event dropped, channel full",
				zap.String("kind", string(ev.Kind)))
		}
	}
}

func (d *ConnectDevice) client() API {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.api
}

// TogglePlay flips between play and pause based on the last observation
func (d *ConnectDevice) TogglePlay(ctx context.Context) error {
	api := d.client()
	if api == nil {
		return errors.New("device: not connected")
	}
	d.mu.Lock()
	playing := d.lastPlaying
	d.mu.Unlock()
	if playing {
		return api.Pause(ctx)
	}
	return api.Play(ctx)
}

// Seek moves playback to the given position
func (d *ConnectDevice) Seek(ctx context.Context, positionMS int) error {
	api := d.client()
	if api == nil {
		return errors.New("device: not connected")
	}
	return api.Seek(ctx, positionMS)
}

// NextTrack skips forward
func (d *ConnectDevice) NextTrack(ctx context.Context) error {
	api := d.client()
	if api == nil {
		return errors.New("device: not connected")
	}
	return api.Next(ctx)
}

// PreviousTrack skips backward
func (d *ConnectDevice) PreviousTrack(ctx context.Context) error {
	api := d.client()
	if api == nil {
		return errors.New("device: not connected")
	}
	return api.Previous(ctx)
}

// TransferPlayback moves the active session to the device without autoplay
func (d *ConnectDevice) TransferPlayback(ctx context.Context, deviceID string, play bool) error {
	api := d.client()
	if api == nil {
		return errors.New("device: not connected")
	}
	return api.TransferPlayback(ctx, spotify.ID(deviceID), play)
}

// PlayURIs starts playback of the given URIs scoped to the device
func (d *ConnectDevice) PlayURIs(ctx context.Context, deviceID string, uris []string) error {
	api := d.client()
	if api == nil {
		return errors.New("device: not connected")
	}

	id := spotify.ID(deviceID)
	spotifyURIs := make([]spotify.URI, len(uris))
	for i, u := range uris {
		spotifyURIs[i] = spotify.URI(u)
	}

	if err := api.PlayOpt(ctx, &spotify.PlayOptions{
		DeviceID: &id,
		URIs:     spotifyURIs,
	}); err != nil {
		return fmt.Errorf("device: start playback: %w", err)
	}
	return nil
}

var _ domain.Device = (*ConnectDevice)(nil)
var _ API = (*spotify.Client)(nil)
