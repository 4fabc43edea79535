package player

import (
	"sync"
	"time"
)

// progressState tracks whether the displayed position follows the device
// or a user drag.
type progressState int

const (
	// synced: the displayed position follows authoritative updates,
	// extrapolated locally between them while playing.
	synced progressState = iota
	// userSeeking: the displayed position follows the drag value;
	// authoritative updates land in stored state only.
	userSeeking
)

// Progress extrapolates the playback position between authoritative device
// events. An authoritative update received while synced always overwrites
// the extrapolated value.
type Progress struct {
	mu         sync.Mutex
	state      progressState
	positionMS int
	durationMS int
	playing    bool
	dragMS     int
}

// NewProgress creates an idle progress tracker
func NewProgress() *Progress {
	return &Progress{}
}

// SetAuthoritative records a device-originated position update
func (p *Progress) SetAuthoritative(positionMS, durationMS int, playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positionMS = positionMS
	p.durationMS = durationMS
	p.playing = playing
}

// Tick advances the local position by the elapsed interval. It has no
// effect while paused or while the user is dragging.
func (p *Progress) Tick(elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != synced || !p.playing {
		return
	}
	p.positionMS += int(elapsed.Milliseconds())
	if p.durationMS > 0 && p.positionMS > p.durationMS {
		p.positionMS = p.durationMS
	}
}

// BeginSeek enters the dragging state at the given position
func (p *Progress) BeginSeek(positionMS int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = userSeeking
	p.dragMS = positionMS
}

// UpdateSeek moves the drag position while dragging
func (p *Progress) UpdateSeek(positionMS int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != userSeeking {
		return
	}
	p.dragMS = positionMS
}

// EndSeek leaves the dragging state and returns the seek target. The
// displayed position resumes from the target until the next authoritative
// update arrives.
func (p *Progress) EndSeek() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != userSeeking {
		return p.positionMS
	}
	p.state = synced
	p.positionMS = p.dragMS
	return p.dragMS
}

// Seeking reports whether a drag is in flight
func (p *Progress) Seeking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == userSeeking
}

// PositionMS returns the displayed position: the drag value while dragging,
// otherwise the (possibly extrapolated) synced position.
func (p *Progress) PositionMS() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == userSeeking {
		return p.dragMS
	}
	return p.positionMS
}

// DurationMS returns the last known track duration
func (p *Progress) DurationMS() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.durationMS
}
