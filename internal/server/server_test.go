package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/melodyhq/melody/internal/artistinfo"
	"github.com/melodyhq/melody/internal/auth"
	"github.com/melodyhq/melody/internal/card"
	"github.com/melodyhq/melody/internal/config"
	"github.com/melodyhq/melody/internal/domain"
	"github.com/melodyhq/melody/internal/fetcher"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type fakeSessions struct {
	tokens    map[string]*oauth2.Token
	loginErr  error
	sessionID string
}

func (f *fakeSessions) BeginLogin() string { return "https://accounts.example.com/authorize?state=s1" }

func (f *fakeSessions) CompleteLogin(_ context.Context, _ string, _ *http.Request) (string, error) {
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return f.sessionID, nil
}

func (f *fakeSessions) Token(id string) (*oauth2.Token, error) {
	if t, ok := f.tokens[id]; ok {
		return t, nil
	}
	return nil, auth.ErrNoSession
}

func (f *fakeSessions) TokenFromRequest(r *http.Request) (*oauth2.Token, error) {
	cookie, err := r.Cookie(auth.SessionCookie)
	if err != nil {
		return nil, auth.ErrNoSession
	}
	return f.Token(cookie.Value)
}

type fakeStats struct {
	user    domain.User
	tracks  []domain.Track
	artists []domain.Artist
	err     error
}

func (f *fakeStats) CurrentUser(_ context.Context) (domain.User, error) { return f.user, f.err }
func (f *fakeStats) TopTracks(_ context.Context, _ domain.TimeRange, _ int) ([]domain.Track, error) {
	return f.tracks, f.err
}
func (f *fakeStats) TopArtists(_ context.Context, _ domain.TimeRange, _ int) ([]domain.Artist, error) {
	return f.artists, f.err
}
func (f *fakeStats) RecentlyPlayed(_ context.Context, _ int) ([]domain.Track, error) {
	return f.tracks, f.err
}

type fakePlayer struct {
	mu          sync.Mutex
	state       domain.PlayerSnapshot
	initialized int
	plays       []string
	toggles     int
	seeks       []int
}

func (f *fakePlayer) Initialize(_ context.Context, _ *oauth2.Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized++
}

func (f *fakePlayer) State() domain.PlayerSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePlayer) Subscribe(fn func(domain.PlayerSnapshot)) func() {
	fn(f.State())
	return func() {}
}

func (f *fakePlayer) PlayTrack(_ context.Context, uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, uri)
}

func (f *fakePlayer) TogglePlayback(_ context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
}

func (f *fakePlayer) SeekToPosition(_ context.Context, positionMS int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, positionMS)
}

func (f *fakePlayer) NextTrack(_ context.Context)     {}
func (f *fakePlayer) PreviousTrack(_ context.Context) {}

type fakePreview struct {
	snapshot domain.PreviewSnapshot
	err      error
	calls    []string
}

func (f *fakePreview) PlayPreview(_ context.Context, trackID, _ string) error {
	f.calls = append(f.calls, trackID)
	if f.err != nil {
		return f.err
	}
	f.snapshot = domain.PreviewSnapshot{TrackID: trackID, IsPlaying: true, DurationSec: 30}
	return nil
}

func (f *fakePreview) Snapshot() domain.PreviewSnapshot { return f.snapshot }

type fakeProxy struct {
	data        []byte
	contentType string
	err         error
}

func (f *fakeProxy) Resolve(_ context.Context, _ string) ([]byte, error) { return f.data, f.err }
func (f *fakeProxy) ResolveDataURL(_ context.Context, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "data:" + f.contentType + ";base64,AAAA", nil
}
func (f *fakeProxy) ContentType(_ string) string { return f.contentType }

type fakeCards struct {
	artifact *card.Artifact
	cached   map[domain.TimeRange]*card.Artifact
	err      error
	requests []domain.CardRequest
}

func (f *fakeCards) Render(_ context.Context, req domain.CardRequest) (*card.Artifact, error) {
	f.requests = append(f.requests, req)
	return f.artifact, f.err
}

func (f *fakeCards) Cached(r domain.TimeRange) (*card.Artifact, bool) {
	a, ok := f.cached[r]
	return a, ok
}

type fakeDeliverer struct {
	target string
	err    error
}

func (f *fakeDeliverer) Deliver(_ context.Context, _ *card.Artifact) (string, error) {
	return f.target, f.err
}

type fakeInfo struct {
	info   domain.ArtistInfo
	cached bool
	err    error
}

func (f *fakeInfo) ArtistInfo(_ context.Context, _ string) (domain.ArtistInfo, bool, error) {
	return f.info, f.cached, f.err
}

type fixture struct {
	server   *Server
	sessions *fakeSessions
	stats    *fakeStats
	player   *fakePlayer
	preview  *fakePreview
	proxy    *fakeProxy
	cards    *fakeCards
	info     *fakeInfo
}

func newFixture(enablePlayback bool) *fixture {
	f := &fixture{
		sessions: &fakeSessions{
			sessionID: "sess-1",
			tokens:    map[string]*oauth2.Token{"sess-1": {AccessToken: "tok"}},
		},
		stats: &fakeStats{
			user: domain.User{ID: "alex42", DisplayName: "Alex"},
			tracks: []domain.Track{{
				ID: "t1", Name: "One", Artists: []string{"Artist A"},
				AlbumName: "Album", DurationMS: 200000,
			}},
			artists: []domain.Artist{{ID: "a1", Name: "Radiohead"}},
		},
		player:  &fakePlayer{state: domain.PlayerSnapshot{IsReady: true, DeviceID: "dev-1"}},
		preview: &fakePreview{},
		proxy:   &fakeProxy{data: []byte("png-bytes"), contentType: "image/png"},
		cards: &fakeCards{
			artifact: &card.Artifact{Range: domain.RangeShortTerm, PNG: []byte("png"), CreatedAt: time.Now()},
			cached:   map[domain.TimeRange]*card.Artifact{},
		},
		info: &fakeInfo{info: domain.ArtistInfo{Summary: "A band."}},
	}

	cfg := &config.Config{ListenAddr: ":0", EnablePlayback: enablePlayback}
	statsFactory := func(_ context.Context, _ *oauth2.Token) domain.StatsProvider { return f.stats }

	f.server = New(zap.NewNop(), cfg, f.sessions, statsFactory,
		f.player, f.preview, f.proxy, f.cards, &fakeDeliverer{target: "download"}, f.info)
	return f
}

func (f *fixture) do(method, path string, body string, authed bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echoContentType, "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: "sess-1"})
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestServer_Health(t *testing.T) {
	f := newFixture(true)
	rec := f.do(http.MethodGet, "/healthz", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestServer_MeRequiresSession(t *testing.T) {
	f := newFixture(true)

	if rec := f.do(http.MethodGet, "/api/me", "", false); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", rec.Code)
	}

	rec := f.do(http.MethodGet, "/api/me", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["displayName"] != "Alex" {
		t.Errorf("unexpected profile: %v", body)
	}
}

func TestServer_Callback(t *testing.T) {
	f := newFixture(true)

	rec := f.do(http.MethodGet, "/callback?code=abc&state=s1", "", false)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d: %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != auth.SessionCookie || cookies[0].Value != "sess-1" {
		t.Errorf("expected session cookie, got %v", cookies)
	}
	if f.player.initialized != 1 {
		t.Errorf("expected playback initialization on login, got %d", f.player.initialized)
	}
}

func TestServer_CallbackStateMismatch(t *testing.T) {
	f := newFixture(true)
	f.sessions.loginErr = auth.ErrStateMismatch

	if rec := f.do(http.MethodGet, "/callback?code=abc&state=bad", "", false); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestServer_CallbackSkipsPlayerWhenDisabled(t *testing.T) {
	f := newFixture(false)

	f.do(http.MethodGet, "/callback?code=abc&state=s1", "", false)
	if f.player.initialized != 0 {
		t.Errorf("playback disabled must not initialize the coordinator")
	}
}

func TestServer_TopTracks(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		expectedCode int
	}{
		{name: "default range", path: "/api/top/tracks", expectedCode: http.StatusOK},
		{name: "explicit range", path: "/api/top/tracks?range=long_term&limit=5", expectedCode: http.StatusOK},
		{name: "bad range", path: "/api/top/tracks?range=yearly", expectedCode: http.StatusBadRequest},
		{name: "bad limit", path: "/api/top/tracks?limit=999", expectedCode: http.StatusBadRequest},
	}

	f := newFixture(true)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodGet, tt.path, "", true)
			if rec.Code != tt.expectedCode {
				t.Fatalf("expected %d, got %d: %s", tt.expectedCode, rec.Code, rec.Body.String())
			}
			if rec.Code == http.StatusOK && !strings.Contains(rec.Body.String(), `"name":"One"`) {
				t.Errorf("track payload missing: %s", rec.Body.String())
			}
		})
	}
}

func TestServer_ProxyImage(t *testing.T) {
	f := newFixture(true)

	if rec := f.do(http.MethodGet, "/api/proxy-image", "", false); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without url, got %d", rec.Code)
	}

	rec := f.do(http.MethodGet, "/api/proxy-image?url=https://i.scdn.co/image/x", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=86400" {
		t.Errorf("expected day-long cache header, got %q", got)
	}
	if rec.Body.String() != "png-bytes" {
		t.Errorf("expected raw bytes, got %q", rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/api/proxy-image?url=https://i.scdn.co/image/x&format=base64", "", false)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "data:image/png;base64,") {
		t.Errorf("expected data url payload, got %d: %s", rec.Code, rec.Body.String())
	}

	f.proxy.err = fetcher.ErrHostNotAllowed
	if rec := f.do(http.MethodGet, "/api/proxy-image?url=https://evil.example/x", "", false); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a blocked host, got %d", rec.Code)
	}
}

func TestServer_ArtistInfo(t *testing.T) {
	f := newFixture(true)

	if rec := f.do(http.MethodPost, "/api/ai/artist-info", `{}`, false); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing name, got %d", rec.Code)
	}

	rec := f.do(http.MethodPost, "/api/ai/artist-info", `{"artistName":"Radiohead"}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"cached":false`) {
		t.Errorf("expected cached flag, got %s", rec.Body.String())
	}

	f.info.err = artistinfo.ErrNoAPIKey
	if rec := f.do(http.MethodPost, "/api/ai/artist-info", `{"artistName":"Radiohead"}`, false); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without an api key, got %d", rec.Code)
	}
}

func TestServer_CardRenderAndDownload(t *testing.T) {
	f := newFixture(true)

	rec := f.do(http.MethodPost, "/api/card/short_term", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.cards.requests) != 1 {
		t.Fatalf("expected one render, got %d", len(f.cards.requests))
	}
	req := f.cards.requests[0]
	if req.Range != domain.RangeShortTerm || req.DisplayName != "Alex" {
		t.Errorf("render request wrong: %+v", req)
	}
	if !strings.Contains(rec.Body.String(), `"filename"`) {
		t.Errorf("expected filename in response: %s", rec.Body.String())
	}

	// Not rendered for this range yet
	if rec := f.do(http.MethodGet, "/api/card/long_term/download", "", true); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before render, got %d", rec.Code)
	}

	f.cards.cached[domain.RangeShortTerm] = f.cards.artifact
	rec = f.do(http.MethodGet, "/api/card/short_term/download", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "attachment") {
		t.Errorf("expected attachment disposition, got %q", got)
	}

	rec = f.do(http.MethodPost, "/api/card/short_term/share", "", true)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"target":"download"`) {
		t.Errorf("expected delivery target, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_CardRenderFailsUpstream(t *testing.T) {
	f := newFixture(true)
	f.stats.err = errors.New("boom")

	if rec := f.do(http.MethodPost, "/api/card/short_term", "", true); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestServer_PlayerCommands(t *testing.T) {
	f := newFixture(true)

	rec := f.do(http.MethodPost, "/api/player/play", `{"uri":"spotify:track:abc"}`, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.player.plays) != 1 || f.player.plays[0] != "spotify:track:abc" {
		t.Errorf("play not forwarded: %v", f.player.plays)
	}

	if rec := f.do(http.MethodPost, "/api/player/seek", `{}`, true); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without positionMs, got %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/api/player/seek", `{"positionMs":42000}`, true)
	if rec.Code != http.StatusAccepted || len(f.player.seeks) != 1 || f.player.seeks[0] != 42000 {
		t.Errorf("seek not forwarded: %d %v", rec.Code, f.player.seeks)
	}

	if rec := f.do(http.MethodPost, "/api/player/toggle", "", true); rec.Code != http.StatusAccepted {
		t.Errorf("expected 202 for toggle, got %d", rec.Code)
	}
}

func TestServer_SeekDragPhases(t *testing.T) {
	f := newFixture(true)

	if rec := f.do(http.MethodPost, "/api/player/seek", `{"positionMs":10000,"phase":"begin"}`, true); rec.Code != http.StatusAccepted {
		t.Fatalf("begin failed: %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/player/seek", `{"positionMs":25000,"phase":"update"}`, true); rec.Code != http.StatusAccepted {
		t.Fatalf("update failed: %d", rec.Code)
	}
	if len(f.player.seeks) != 0 {
		t.Fatalf("dragging must not issue device seeks, got %v", f.player.seeks)
	}

	if rec := f.do(http.MethodPost, "/api/player/seek", `{"positionMs":30000,"phase":"end"}`, true); rec.Code != http.StatusAccepted {
		t.Fatalf("end failed: %d", rec.Code)
	}
	if len(f.player.seeks) != 1 || f.player.seeks[0] != 30000 {
		t.Errorf("expected one device seek to the drag target, got %v", f.player.seeks)
	}

	if rec := f.do(http.MethodPost, "/api/player/seek", `{"positionMs":1,"phase":"sideways"}`, true); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown phase, got %d", rec.Code)
	}
}

func TestServer_SeekEndWithoutBegin(t *testing.T) {
	f := newFixture(true)

	if rec := f.do(http.MethodPost, "/api/player/seek", `{"positionMs":45000,"phase":"end"}`, true); rec.Code != http.StatusAccepted {
		t.Fatalf("end without a drag failed: %d", rec.Code)
	}
	if len(f.player.seeks) != 1 || f.player.seeks[0] != 45000 {
		t.Errorf("expected an immediate seek to the requested position, got %v", f.player.seeks)
	}

	if rec := f.do(http.MethodPost, "/api/player/seek", `{"phase":"end"}`, true); rec.Code != http.StatusBadRequest {
		t.Errorf("end without a drag and without a position should 400, got %d", rec.Code)
	}
}

func TestServer_PlayerDisabled(t *testing.T) {
	f := newFixture(false)

	paths := []string{"/api/player/play", "/api/player/toggle", "/api/player/seek",
		"/api/player/next", "/api/player/previous"}
	for _, path := range paths {
		if rec := f.do(http.MethodPost, path, `{"uri":"u","positionMs":1}`, true); rec.Code != http.StatusConflict {
			t.Errorf("%s: expected 409 when disabled, got %d", path, rec.Code)
		}
	}
	if rec := f.do(http.MethodGet, "/api/player/state", "", true); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for state when disabled, got %d", rec.Code)
	}
}

func TestServer_PlayerEventsStreamsReplay(t *testing.T) {
	f := newFixture(true)

	req := httptest.NewRequest(http.MethodGet, "/api/player/events", nil)
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		f.server.Handler().ServeHTTP(rec, req)
		close(done)
	}()

	// The subscription replay delivers the current snapshot immediately;
	// give the handler a moment to write it, then hang up.
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never returned after disconnect")
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") || !strings.Contains(body, `"isReady":true`) {
		t.Errorf("expected a replayed snapshot event, got %q", body)
	}
	if got := rec.Header().Get(echoContentType); got != "text/event-stream" {
		t.Errorf("expected event-stream content type, got %q", got)
	}
}

func TestServer_PreviewPlay(t *testing.T) {
	f := newFixture(false)

	if rec := f.do(http.MethodPost, "/api/preview/play", `{}`, false); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without trackId, got %d", rec.Code)
	}

	rec := f.do(http.MethodPost, "/api/preview/play",
		`{"trackId":"t1","previewUrl":"https://p.scdn.co/mp3-preview/x"}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"trackId":"t1"`) {
		t.Errorf("expected preview snapshot, got %s", rec.Body.String())
	}

	f.preview.err = errors.New("boom")
	if rec := f.do(http.MethodPost, "/api/preview/play", `{"trackId":"t2"}`, false); rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 on fetch failure, got %d", rec.Code)
	}
}
