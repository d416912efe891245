package connection

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/friflo/fliox.go/internal/codec"
	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/logger"
)

type Config struct {
	URL     url.URL
	BaseURL string
	Codec   codec.Codec
	Logger  logger.Logger
	// Timeout bounds a single Send. Zero disables it.
	Timeout time.Duration
	// EventBuffer is the capacity of the channel returned by Events.
	EventBuffer int
}

// NewConfig creates a Config for the hub at u, e.g. "ws://localhost:8010"
// or "http://localhost:8010". Frames are JSON encoded unless Codec is
// replaced, e.g. by codec.NewCBOR().
func NewConfig(u *url.URL) *Config {
	return &Config{
		URL:         *u,
		BaseURL:     fmt.Sprintf("%s://%s", u.Scheme, u.Host),
		Codec:       codec.NewJSON(),
		Logger:      logger.New(slog.NewTextHandler(os.Stdout, nil)),
		EventBuffer: constants.DefaultEventQueueSize,
	}
}

// ParseConfig is NewConfig for a URL string.
func ParseConfig(rawURL string) (*Config, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid hub url %q: %w", rawURL, err)
	}
	return NewConfig(u), nil
}
