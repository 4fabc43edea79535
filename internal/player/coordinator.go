// Package player owns the shared playback state for the process. The
// Coordinator is the single writer of the observable snapshot: it consumes
// normalized events from the device adapter and rebroadcasts state to any
// number of subscribers.
package player

import (
	"context"
	"sync"

	"github.com/melodyhq/melody/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type subscriber struct {
	id int
	fn func(domain.PlayerSnapshot)
}

// Coordinator mediates between the playback device and UI observers.
// Exactly one instance exists per running application; it is constructed
// explicitly and owned by the application lifecycle.
type Coordinator struct {
	logger *zap.Logger
	device domain.Device

	mu          sync.RWMutex
	snapshot    domain.PlayerSnapshot
	subscribers []subscriber
	nextID      int
	initialized bool
	token       *oauth2.Token

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator around a device adapter
func NewCoordinator(logger *zap.Logger, device domain.Device) *Coordinator {
	return &Coordinator{
		logger: logger,
		device: device,
	}
}

// Subscribe registers an observer and immediately replays the current
// snapshot to it. The returned function removes exactly this registration.
func (c *Coordinator) Subscribe(fn func(domain.PlayerSnapshot)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers = append(c.subscribers, subscriber{id: id, fn: fn})
	current := c.snapshot
	c.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subscribers {
				if s.id == id {
					c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// State returns a copy of the current snapshot
func (c *Coordinator) State() domain.PlayerSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Initialize begins the device connection. It is idempotent: repeated calls
// while connected or connecting are no-ops, so the application may call it
// once per authenticated render without duplicate registrations.
func (c *Coordinator) Initialize(ctx context.Context, token *oauth2.Token) {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		c.logger.Debug("Player already initialized")
		return
	}
	c.initialized = true
	c.token = token

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Info("Initializing playback coordinator")

	if err := c.device.Connect(ctx, token); err != nil {
		// The device governs its own retry; the coordinator stays
		// initialized and keeps listening for events.
		c.logger.Error("Device connection failed", zap.Error(err))
	}

	c.wg.Add(1)
	go c.runLoop(loopCtx)
}

// Shutdown stops event processing and disconnects the device
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.initialized = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return c.device.Disconnect(ctx)
}

func (c *Coordinator) runLoop(ctx context.Context) {
	defer c.wg.Done()
	events := c.device.Events()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Coordinator loop stopped")
			return
		case ev, ok := <-events:
			if !ok {
				c.logger.Info("Device events channel closed")
				return
			}
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Coordinator) handleEvent(ctx context.Context, ev domain.DeviceEvent) {
	switch ev.Kind {
	case domain.DeviceReady:
		c.logger.Info("Playback device ready", zap.String("deviceId", ev.DeviceID))
		c.update(func(s *domain.PlayerSnapshot) {
			s.DeviceID = ev.DeviceID
			s.IsReady = true
		})
		// Best effort: legitimately fails when no playback session exists yet
		if err := c.device.TransferPlayback(ctx, ev.DeviceID, false); err != nil {
			c.logger.Warn("Playback transfer failed (often normal)", zap.Error(err))
		}

	case domain.DeviceNotReady:
		c.logger.Info("Playback device went offline", zap.String("deviceId", ev.DeviceID))
		// DeviceID retained for diagnostics
		c.update(func(s *domain.PlayerSnapshot) {
			s.IsReady = false
		})

	case domain.DeviceStateChanged:
		c.update(func(s *domain.PlayerSnapshot) {
			s.CurrentTrack = ev.Track
			s.IsPlaying = !ev.Paused
			s.PositionMS = ev.PositionMS
			s.DurationMS = ev.DurationMS
		})

	case domain.DeviceError:
		// Informational only: the device governs retry and the last
		// known-good state stays published.
		c.logger.Error("Device error",
			zap.String("kind", string(ev.ErrorKind)),
			zap.String("message", ev.Message))
	}
}

// update mutates the snapshot and notifies subscribers in insertion order
func (c *Coordinator) update(mutate func(*domain.PlayerSnapshot)) {
	c.mu.Lock()
	mutate(&c.snapshot)
	current := c.snapshot
	subs := make([]subscriber, len(c.subscribers))
	copy(subs, c.subscribers)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(current)
	}
}

// PlayTrack starts playback of a track URI on the coordinator's device.
// Failures are logged, never returned: confirmation arrives only through
// the next device state broadcast.
func (c *Coordinator) PlayTrack(ctx context.Context, uri string) {
	c.mu.RLock()
	deviceID := c.snapshot.DeviceID
	token := c.token
	c.mu.RUnlock()

	if deviceID == "" || token == nil {
		c.logger.Error("No device or credential available for playback",
			zap.String("uri", uri))
		return
	}

	if err := c.device.PlayURIs(ctx, deviceID, []string{uri}); err != nil {
		c.logger.Error("Failed to start playback", zap.String("uri", uri), zap.Error(err))
	}
}

// TogglePlayback flips play/pause on the device; no-op until ready
func (c *Coordinator) TogglePlayback(ctx context.Context) {
	if !c.ready() {
		return
	}
	if err := c.device.TogglePlay(ctx); err != nil {
		c.logger.Error("Toggle playback failed", zap.Error(err))
	}
}

// SeekToPosition moves playback to the given position; no-op until ready
func (c *Coordinator) SeekToPosition(ctx context.Context, positionMS int) {
	if !c.ready() {
		return
	}
	if err := c.device.Seek(ctx, positionMS); err != nil {
		c.logger.Error("Seek failed", zap.Int("positionMs", positionMS), zap.Error(err))
	}
}

// NextTrack skips forward; no-op until ready
func (c *Coordinator) NextTrack(ctx context.Context) {
	if !c.ready() {
		return
	}
	if err := c.device.NextTrack(ctx); err != nil {
		c.logger.Error("Next track failed", zap.Error(err))
	}
}

// PreviousTrack skips backward; no-op until ready
func (c *Coordinator) PreviousTrack(ctx context.Context) {
	if !c.ready() {
		return
	}
	if err := c.device.PreviousTrack(ctx); err != nil {
		c.logger.Error("Previous track failed", zap.Error(err))
	}
}

func (c *Coordinator) ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.IsReady
}
