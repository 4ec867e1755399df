package config

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Connection limit for the HTTP listener.
	MaxConnections int

	// Upload limits
	MaxUploadBytes int64
	MaxFilesPerAdd int

	// Session state
	SessionTTL  time.Duration
	MaxSessions int

	// Export workers
	ExportWorkers   int
	ExportQueueSize int

	// Rendering
	PreviewScale     float64
	ThumbnailWidth   int
	LookaheadMargin  float64
	MaxRenderWorkers int

	// Raster-image page canvas, in points.
	ImagePageWidth  float64
	ImagePageHeight float64

	// PDF rasterizer. Empty disables document page previews.
	PdftoppmPath string
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("PAGEMERGE_API_KEY"),

		MaxConnections: envInt("MAX_CONNECTIONS", 256),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 104857600), // 100MB
		MaxFilesPerAdd: envInt("MAX_FILES_PER_ADD", 50),

		SessionTTL:  envDuration("SESSION_TTL", 2*time.Hour),
		MaxSessions: envInt("MAX_SESSIONS", 100),

		ExportWorkers:   envInt("EXPORT_WORKERS", 2),
		ExportQueueSize: envInt("EXPORT_QUEUE_SIZE", 20),

		PreviewScale:     envFloat("PREVIEW_SCALE", 1.2),
		ThumbnailWidth:   envInt("THUMBNAIL_WIDTH", 48),
		LookaheadMargin:  envFloat("LOOKAHEAD_MARGIN", 200),
		MaxRenderWorkers: envInt("MAX_RENDER_WORKERS", 4),

		ImagePageWidth:  envFloat("IMAGE_PAGE_WIDTH", 595),
		ImagePageHeight: envFloat("IMAGE_PAGE_HEIGHT", 842),

		PdftoppmPath: envOr("PDFTOPPM_PATH", lookPath("pdftoppm")),
	}

	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 256
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 104857600
	}
	if cfg.MaxFilesPerAdd <= 0 {
		cfg.MaxFilesPerAdd = 50
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 2 * time.Hour
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 100
	}
	if cfg.ExportWorkers <= 0 {
		cfg.ExportWorkers = 2
	}
	if cfg.ExportQueueSize <= 0 {
		cfg.ExportQueueSize = 20
	}
	if cfg.PreviewScale <= 0 {
		cfg.PreviewScale = 1.2
	}
	if cfg.ThumbnailWidth <= 0 {
		cfg.ThumbnailWidth = 48
	}
	if cfg.LookaheadMargin < 0 {
		cfg.LookaheadMargin = 200
	}
	if cfg.MaxRenderWorkers <= 0 {
		cfg.MaxRenderWorkers = 4
	}
	if cfg.ImagePageWidth <= 0 {
		cfg.ImagePageWidth = 595
	}
	if cfg.ImagePageHeight <= 0 {
		cfg.ImagePageHeight = 842
	}

	return cfg
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("PAGEMERGE_API_KEY is required")
	}
	if c.PdftoppmPath != "" {
		if _, err := exec.LookPath(c.PdftoppmPath); err != nil {
			return fmt.Errorf("PDFTOPPM_PATH: %w", err)
		}
	}
	return nil
}

func lookPath(name string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
