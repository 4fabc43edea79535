package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds application configuration
type Config struct {
	// ListenAddr is the HTTP bind address
	ListenAddr string

	// BaseURL is the externally visible origin, used for OAuth redirects
	BaseURL string

	// AssetsDir holds static assets (logo) for the card compositor
	AssetsDir string

	// OutputDir receives downloaded card artifacts
	OutputDir string

	// AllowedImageHosts is the image-proxy host allow-list
	AllowedImageHosts []string

	// EnablePlayback selects full device playback over preview-only mode
	EnablePlayback bool

	// PollInterval is the device state poll cadence
	PollInterval time.Duration

	// Spotify application credentials
	Spotify SpotifyConfig

	// AI configures the artist-info provider
	AI AIConfig
}

// SpotifyConfig holds OAuth client credentials
type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
}

// AIConfig holds the chat-completions endpoint settings
type AIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// RedirectURL is the OAuth callback endpoint under the external origin
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/callback"
}

// Load reads configuration from file and environment
func Load(logger *zap.Logger) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/melody")
	v.AddConfigPath(".")

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("assets_dir", "assets")
	v.SetDefault("output_dir", "/tmp/melody")
	v.SetDefault("allowed_image_hosts", []string{"i.scdn.co"})
	v.SetDefault("enable_playback", true)
	v.SetDefault("poll_interval", "2s")
	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.model", "gpt-5-nano")

	// Config file is optional, env vars are enough to run
	_ = v.ReadInConfig()

	v.SetEnvPrefix("MELODY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		ListenAddr:        v.GetString("listen_addr"),
		BaseURL:           v.GetString("base_url"),
		AssetsDir:         v.GetString("assets_dir"),
		OutputDir:         v.GetString("output_dir"),
		AllowedImageHosts: v.GetStringSlice("allowed_image_hosts"),
		EnablePlayback:    v.GetBool("enable_playback"),
		PollInterval:      v.GetDuration("poll_interval"),
		Spotify: SpotifyConfig{
			ClientID:     v.GetString("spotify.client_id"),
			ClientSecret: v.GetString("spotify.client_secret"),
		},
		AI: AIConfig{
			APIKey:  v.GetString("ai.api_key"),
			BaseURL: v.GetString("ai.base_url"),
			Model:   v.GetString("ai.model"),
		},
	}

	logger.Info("Configuration loaded",
		zap.String("listenAddr", cfg.ListenAddr),
		zap.Strings("allowedImageHosts", cfg.AllowedImageHosts),
		zap.Bool("enablePlayback", cfg.EnablePlayback),
		zap.Duration("pollInterval", cfg.PollInterval))

	return cfg, nil
}
