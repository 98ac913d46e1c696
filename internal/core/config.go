package core

import (
	"fmt"
	"time"
)

const (
	// DefaultPollInterval is how often the poller asks for the current playback
	DefaultPollInterval = time.Second
	// MinPollInterval is the fastest allowed poll cadence
	MinPollInterval = time.Second
	// MaxPollInterval is the slowest allowed poll cadence
	MaxPollInterval = 5 * time.Second
	// DefaultTickInterval is the local position-advance cadence
	DefaultTickInterval = time.Second
	// DefaultCacheTTL is how long a search or listing result stays valid
	DefaultCacheTTL = 5 * time.Minute
	// DefaultCacheMaxEntries bounds the result cache
	DefaultCacheMaxEntries = 100
	// DefaultMaxRetries is the retry budget shared by 429, 5xx and network failures
	DefaultMaxRetries = 4
	// DefaultShuffleBatchSize is the chunk size used by batch shuffle
	DefaultShuffleBatchSize = 50
	// DefaultBatchShuffleThreshold selects batch shuffle above this many tracks
	DefaultBatchShuffleThreshold = 100
	// DefaultNoAdjacentThreshold selects artist-diversity shuffle above this many tracks
	DefaultNoAdjacentThreshold = 20
	// DefaultEnqueuePacing is the delay between incremental queue additions
	DefaultEnqueuePacing = 250 * time.Millisecond
	// DefaultPlayBatchSize is how many URIs a single play request carries
	DefaultPlayBatchSize = 50
	// DefaultServerPort is the HTTP port for the UI-facing API
	DefaultServerPort = 8080
)

type Config struct {
	Spotify  SpotifyConfig
	Pipeline PipelineConfig
	Cache    CacheConfig
	Shuffle  ShuffleConfig
	Player   PlayerConfig
	Server   ServerConfig
	Log      LogConfig
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenPath    string
	BaseURL      string
}

type PipelineConfig struct {
	MaxRetries     int
	BackoffDelays  []time.Duration
	RequestTimeout time.Duration
}

type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

type ShuffleConfig struct {
	BatchSize           int
	BatchThreshold      int
	NoAdjacentThreshold int
}

type PlayerConfig struct {
	PollInterval      time.Duration
	TickInterval      time.Duration
	OptimisticWindow  time.Duration
	RollbackOnFailure bool
	EnqueuePacing     time.Duration
	PlayBatchSize     int
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// DefaultBackoffDelays is the fixed exponential sequence used for 5xx and network failures.
func DefaultBackoffDelays() []time.Duration {
	return []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
}

func DefaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURL: "http://127.0.0.1:8080/callback",
			TokenPath:   "./spotify_token.json",
			BaseURL:     "https://api.spotify.com/v1",
		},
		Pipeline: PipelineConfig{
			MaxRetries:     DefaultMaxRetries,
			BackoffDelays:  DefaultBackoffDelays(),
			RequestTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			TTL:        DefaultCacheTTL,
			MaxEntries: DefaultCacheMaxEntries,
		},
		Shuffle: ShuffleConfig{
			BatchSize:           DefaultShuffleBatchSize,
			BatchThreshold:      DefaultBatchShuffleThreshold,
			NoAdjacentThreshold: DefaultNoAdjacentThreshold,
		},
		Player: PlayerConfig{
			PollInterval:     DefaultPollInterval,
			TickInterval:     DefaultTickInterval,
			OptimisticWindow: 2 * DefaultPollInterval,
			EnqueuePacing:    DefaultEnqueuePacing,
			PlayBatchSize:    DefaultPlayBatchSize,
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         DefaultServerPort,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the settings the core components cannot run without.
func (c *Config) Validate() error {
	if c.Spotify.ClientID == "" {
		return fmt.Errorf("spotify client ID is required")
	}
	if c.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify client secret is required")
	}
	if c.Player.PollInterval < MinPollInterval || c.Player.PollInterval > MaxPollInterval {
		return fmt.Errorf("poll interval %s outside [%s, %s]", c.Player.PollInterval, MinPollInterval, MaxPollInterval)
	}
	if c.Player.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.Player.OptimisticWindow <= 0 {
		return fmt.Errorf("optimistic window must be positive")
	}
	if c.Player.PlayBatchSize <= 0 {
		return fmt.Errorf("play batch size must be positive")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if len(c.Pipeline.BackoffDelays) == 0 {
		return fmt.Errorf("at least one backoff delay is required")
	}
	if c.Cache.TTL <= 0 || c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache TTL and max entries must be positive")
	}
	if c.Shuffle.BatchSize <= 0 {
		return fmt.Errorf("shuffle batch size must be positive")
	}
	return nil
}
