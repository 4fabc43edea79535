package card

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Target delivers a rendered artifact to one sharing capability. Targets
// report availability before being asked to deliver.
type Target interface {
	Name() string
	Available() bool
	Deliver(ctx context.Context, a *Artifact) error
}

// Deliverer walks an ordered chain of targets: each is tried only after the
// previous one is unavailable or failed. The final target is expected to be
// a download, which is always available.
type Deliverer struct {
	logger  *zap.Logger
	targets []Target
}

// NewDeliverer creates a delivery chain in the given order
func NewDeliverer(logger *zap.Logger, targets ...Target) *Deliverer {
	return &Deliverer{logger: logger, targets: targets}
}

// Deliver hands the artifact to the first target that accepts it and
// returns that target's name.
func (d *Deliverer) Deliver(ctx context.Context, a *Artifact) (string, error) {
	var lastErr error
	for _, t := range d.targets {
		if !t.Available() {
			d.logger.Debug("Share target unavailable, falling back",
				zap.String("target", t.Name()))
			continue
		}
		if err := t.Deliver(ctx, a); err != nil {
			d.logger.Warn("Share target failed, falling back",
				zap.String("target", t.Name()), zap.Error(err))
			lastErr = err
			continue
		}
		return t.Name(), nil
	}
	if lastErr == nil {
		lastErr = errors.New("no share target available")
	}
	return "", lastErr
}

// DownloadTarget writes artifacts into a local directory. It is the chain's
// last resort and always reports itself available.
type DownloadTarget struct {
	logger *zap.Logger
	dir    string
}

// NewDownloadTarget creates a download target writing into dir
func NewDownloadTarget(logger *zap.Logger, dir string) *DownloadTarget {
	return &DownloadTarget{logger: logger, dir: dir}
}

// Name identifies the target in delivery results
func (t *DownloadTarget) Name() string { return "download" }

// Available always returns true; a local write is the final fallback
func (t *DownloadTarget) Available() bool { return true }

// Deliver writes the artifact's PNG under its canonical filename
func (t *DownloadTarget) Deliver(_ context.Context, a *Artifact) error {
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(t.dir, a.Filename())
	if err := os.WriteFile(path, a.PNG, 0644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}

	t.logger.Info("Card downloaded",
		zap.String("path", path),
		zap.Int("size", len(a.PNG)))
	return nil
}
