// Package preview implements the preview-only audio player: one stream at a
// time, 30-second vendor preview clips, a ticking position counter. It is a
// peer of the full playback coordinator and shares no state with it.
package preview

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/melodyhq/melody/internal/domain"
	"go.uber.org/zap"
)

const (
	// Vendor preview clips are 30 seconds; used when the stream cannot
	// be decoded for an exact duration.
	fallbackDurationSec = 30

	maxPreviewBytes = 5 << 20
)

type subscriber struct {
	id int
	fn func(domain.PreviewSnapshot)
}

// Player is the preview-only audio player. One writer (the tick loop),
// many readers; subscribers receive snapshot copies.
type Player struct {
	logger *zap.Logger
	client *http.Client

	// test seams
	tick        time.Duration
	fallbackSec float64

	mu          sync.Mutex
	snapshot    domain.PreviewSnapshot
	subscribers []subscriber
	nextID      int
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewPlayer creates a preview player. A nil client falls back to a default
// with a conservative timeout.
func NewPlayer(logger *zap.Logger, client *http.Client) *Player {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Player{
		logger:      logger,
		client:      client,
		tick:        time.Second,
		fallbackSec: fallbackDurationSec,
	}
}

// Subscribe registers a callback for snapshot changes. The current snapshot
// is replayed immediately. The returned function removes exactly this
// registration and is safe to call more than once.
func (p *Player) Subscribe(fn func(domain.PreviewSnapshot)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subscribers = append(p.subscribers, subscriber{id: id, fn: fn})
	current := p.snapshot
	p.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, s := range p.subscribers {
				if s.id == id {
					p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// Snapshot returns the current preview state
func (p *Player) Snapshot() domain.PreviewSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// PlayPreview drives the single-stream state machine. Calling it with the
// currently playing track pauses; with the current paused track it resumes;
// with a new track it replaces the stream. An empty preview URL is a silent
// no-op: not every track carries one.
func (p *Player) PlayPreview(ctx context.Context, trackID, previewURL string) error {
	p.mu.Lock()
	current := p.snapshot
	p.mu.Unlock()

	if current.TrackID == trackID && trackID != "" {
		if current.IsPlaying {
			p.pause()
		} else {
			p.resume()
		}
		return nil
	}

	if previewURL == "" {
		p.logger.Debug("No preview available", zap.String("trackID", trackID))
		return nil
	}

	data, err := p.fetch(ctx, previewURL)
	if err != nil {
		p.logger.Error("Preview fetch failed",
			zap.String("trackID", trackID), zap.Error(err))
		return err
	}
	duration := p.durationSeconds(data)

	p.stopLoop()

	p.mu.Lock()
	p.snapshot = domain.PreviewSnapshot{
		TrackID:     trackID,
		IsPlaying:   true,
		CurrentSec:  0,
		DurationSec: duration,
	}
	p.startLoopLocked()
	p.mu.Unlock()

	p.logger.Info("Preview started",
		zap.String("trackID", trackID), zap.Float64("durationSec", duration))
	p.notify()
	return nil
}

// Stop halts the current stream and clears the state
func (p *Player) Stop() {
	p.stopLoop()

	p.mu.Lock()
	changed := p.snapshot != (domain.PreviewSnapshot{})
	p.snapshot = domain.PreviewSnapshot{}
	p.mu.Unlock()

	if changed {
		p.notify()
	}
}

func (p *Player) pause() {
	p.stopLoop()

	p.mu.Lock()
	p.snapshot.IsPlaying = false
	p.mu.Unlock()
	p.notify()
}

func (p *Player) resume() {
	p.mu.Lock()
	p.snapshot.IsPlaying = true
	p.startLoopLocked()
	p.mu.Unlock()
	p.notify()
}

func (p *Player) startLoopLocked() {
	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(loopCtx)
}

func (p *Player) stopLoop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Player) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.advance() {
				return
			}
		}
	}
}

// advance moves the position one tick forward. Returns true when the clip
// has ended and the loop should exit.
func (p *Player) advance() bool {
	p.mu.Lock()
	if !p.snapshot.IsPlaying {
		p.mu.Unlock()
		return true
	}
	p.snapshot.CurrentSec += p.tick.Seconds()
	ended := p.snapshot.CurrentSec >= p.snapshot.DurationSec
	var cancel context.CancelFunc
	if ended {
		p.snapshot = domain.PreviewSnapshot{}
		cancel = p.cancel
		p.cancel = nil
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.notify()
	return ended
}

func (p *Player) notify() {
	p.mu.Lock()
	current := p.snapshot
	subs := make([]subscriber, len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.Unlock()

	for _, s := range subs {
		s.fn(current)
	}
}

func (p *Player) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("preview: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("preview: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("preview: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPreviewBytes))
	if err != nil {
		return nil, fmt.Errorf("preview: read body: %w", err)
	}
	return data, nil
}

// durationSeconds decodes the stream header for an exact clip length.
// Decoded PCM is 16-bit stereo, 4 bytes per sample frame.
func (p *Player) durationSeconds(data []byte) float64 {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		p.logger.Debug("Preview decode failed, assuming default length", zap.Error(err))
		return p.fallbackSec
	}
	if dec.SampleRate() <= 0 {
		return p.fallbackSec
	}
	return float64(dec.Length()) / float64(4*dec.SampleRate())
}
