package fetcher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const _maxImageSize = 10 * 1024 * 1024 // 10 MB

// ErrHostNotAllowed is returned when the source host is not allow-listed
var ErrHostNotAllowed = errors.New("image host not allowed")

type cachedImage struct {
	data        []byte
	contentType string
}

// Proxy downloads remote artwork on behalf of the card compositor and the
// proxy-image endpoint. Results are cached per URL for the process lifetime;
// concurrent requests for the same URL share a single upstream fetch.
type Proxy struct {
	logger  *zap.Logger
	client  *http.Client
	allowed []string

	mu    sync.RWMutex
	cache map[string]cachedImage
	group singleflight.Group
}

// NewProxy creates an allow-listed image proxy
func NewProxy(logger *zap.Logger, allowedHosts []string) *Proxy {
	return &Proxy{
		logger:  logger,
		allowed: allowedHosts,
		client: &http.Client{
			Timeout: 10 * time.Second, // Essential to prevent hanging a render
		},
		cache: make(map[string]cachedImage),
	}
}

// Resolve returns the raw image bytes for the given URL
func (p *Proxy) Resolve(ctx context.Context, rawURL string) ([]byte, error) {
	img, err := p.resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return img.data, nil
}

// ResolveDataURL returns the image as an embeddable base64 data URL
func (p *Proxy) ResolveDataURL(ctx context.Context, rawURL string) (string, error) {
	img, err := p.resolve(ctx, rawURL)
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(img.data)
	return fmt.Sprintf("data:%s;base64,%s", img.contentType, encoded), nil
}

// ContentType reports the upstream content type for an already resolved URL
func (p *Proxy) ContentType(rawURL string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if img, ok := p.cache[rawURL]; ok {
		return img.contentType
	}
	return ""
}

func (p *Proxy) resolve(ctx context.Context, rawURL string) (cachedImage, error) {
	if err := p.checkHost(rawURL); err != nil {
		return cachedImage{}, err
	}

	p.mu.RLock()
	img, ok := p.cache[rawURL]
	p.mu.RUnlock()
	if ok {
		return img, nil
	}

	v, err, _ := p.group.Do(rawURL, func() (interface{}, error) {
		// Re-check: a previous flight may have populated the cache
		p.mu.RLock()
		img, ok := p.cache[rawURL]
		p.mu.RUnlock()
		if ok {
			return img, nil
		}

		img, err := p.fetch(ctx, rawURL)
		if err != nil {
			return cachedImage{}, err
		}

		p.mu.Lock()
		p.cache[rawURL] = img
		p.mu.Unlock()
		return img, nil
	})
	if err != nil {
		return cachedImage{}, err
	}
	return v.(cachedImage), nil
}

func (p *Proxy) checkHost(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid image url: %w", err)
	}
	for _, host := range p.allowed {
		if u.Hostname() == host {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Hostname())
}

func (p *Proxy) fetch(ctx context.Context, rawURL string) (cachedImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return cachedImage{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Melody/1.0)")
	req.Header.Set("Accept", "image/*")

	resp, err := p.client.Do(req)
	if err != nil {
		return cachedImage{}, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cachedImage{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return cachedImage{}, fmt.Errorf("url is not an image: %s", contentType)
	}

	limitReader := io.LimitReader(resp.Body, _maxImageSize)

	data, err := io.ReadAll(limitReader)
	if err != nil {
		return cachedImage{}, fmt.Errorf("failed to read body: %w", err)
	}

	p.logger.Debug("Image fetched successfully",
		zap.Int("bytes", len(data)),
		zap.String("url", rawURL))

	return cachedImage{data: data, contentType: contentType}, nil
}
