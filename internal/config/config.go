package config

import (
	"errors"
	"time"
)

var (
	ErrMissingServerURL      = errors.New("server base URL must be set")
	ErrInvalidSampleInterval = errors.New("sample interval must be greater than 0")
	ErrInvalidConfirmTimeout = errors.New("confirm timeout must be greater than 0")
	ErrInvalidRefreshDelay   = errors.New("refresh delay must be greater than 0")
	ErrInvalidMaxUploadSize  = errors.New("max upload size must not be negative")
)

// Config holds all application configuration
type Config struct {
	Server ServerConfig `json:"server"`
	Upload UploadConfig `json:"upload"`
}

// ServerConfig holds the endpoints the engine talks to
type ServerConfig struct {
	// BaseURL is the upload server root, e.g. http://localhost:8080
	BaseURL string `json:"base_url"`
	// ListenAddr is the bind address used by the serve command
	ListenAddr string `json:"listen_addr"`
	// MaxUploadSize caps accepted uploads in the dev server; 0 disables the cap
	MaxUploadSize int64 `json:"max_upload_size"`
}

// UploadConfig holds upload-engine specific configuration
type UploadConfig struct {
	// AcceptPolicy is the destination's accept-pattern string, e.g. ".png|image/*".
	// Empty accepts every file.
	AcceptPolicy string `json:"accept_policy"`
	// SkipExisting asks the server to decline uploads whose target already exists
	SkipExisting bool `json:"skip_existing"`
	// SampleInterval is how often speed and ETA are recomputed
	SampleInterval time.Duration `json:"sample_interval"`
	// ConfirmTimeout bounds resume-offer confirmations when the server sends no expiry
	ConfirmTimeout time.Duration `json:"confirm_timeout"`
	// RefreshDelay debounces the listing refresh after the queue drains, so a
	// server-side rename from temporary to final name is not raced
	RefreshDelay time.Duration `json:"refresh_delay"`
	// RequestTimeout bounds a single upload request; 0 means no timeout
	RequestTimeout time.Duration `json:"request_timeout"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:       "http://localhost:8080",
			ListenAddr:    ":8080",
			MaxUploadSize: 0,
		},
		Upload: UploadConfig{
			AcceptPolicy:   "",
			SkipExisting:   false,
			SampleInterval: 3 * time.Second,
			ConfirmTimeout: 25 * time.Second,
			RefreshDelay:   500 * time.Millisecond,
			RequestTimeout: 0,
		},
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return ErrMissingServerURL
	}
	if c.Server.MaxUploadSize < 0 {
		return ErrInvalidMaxUploadSize
	}
	if c.Upload.SampleInterval <= 0 {
		return ErrInvalidSampleInterval
	}
	if c.Upload.ConfirmTimeout <= 0 {
		return ErrInvalidConfirmTimeout
	}
	if c.Upload.RefreshDelay <= 0 {
		return ErrInvalidRefreshDelay
	}
	return nil
}
