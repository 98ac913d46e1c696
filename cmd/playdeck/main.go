// Package main provides the playdeck CLI application entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"playdeck/internal/api"
	"playdeck/internal/core"
	httpserver "playdeck/internal/http"
	"playdeck/internal/player"
	"playdeck/internal/shuffle"
	"playdeck/internal/spotify"
)

const envPrefix = "PLAYDECK"

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "playdeck",
	Short: "playdeck - Spotify playback core",
	Long: `playdeck keeps a local mirror of Spotify playback in sync through polling and pushed
player events, applies commands optimistically and serves it all to a browser UI.`,
	RunE: runPlaydeck,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current playback once and exit",
	RunE:  runStatus,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize playdeck with Spotify and store the token",
	RunE:  runLogin,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(statusCmd, loginCmd)

	defaults := core.DefaultConfig()
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", defaults.Log.Format, "log format (json, console)")
	flags.String("spotify-client-id", "", "Spotify client ID")
	flags.String("spotify-client-secret", "", "Spotify client secret")
	flags.String("spotify-redirect-url", defaults.Spotify.RedirectURL, "OAuth redirect URL registered for the app")
	flags.String("spotify-token-path", defaults.Spotify.TokenPath, "Path of the stored OAuth token")
	flags.String("spotify-api-url", defaults.Spotify.BaseURL, "Web API base URL")
	flags.Int("max-retries", defaults.Pipeline.MaxRetries, "Retry budget for rate-limited, 5xx and network failures")
	flags.Duration("request-timeout", defaults.Pipeline.RequestTimeout, "Timeout of a single Web API attempt")
	flags.Duration("cache-ttl", defaults.Cache.TTL, "Lifetime of cached search and listing results")
	flags.Int("cache-max-entries", defaults.Cache.MaxEntries, "Maximum cached results per cache")
	flags.Int("shuffle-batch-size", defaults.Shuffle.BatchSize, "Chunk size of batch shuffle")
	flags.Int("batch-shuffle-threshold", defaults.Shuffle.BatchThreshold, "Use batch shuffle above this many tracks")
	flags.Int("no-adjacent-threshold", defaults.Shuffle.NoAdjacentThreshold, "Use artist-spreading shuffle above this many tracks")
	flags.Duration("poll-interval", defaults.Player.PollInterval, "Playback poll interval (1s-5s)")
	flags.Duration("tick-interval", defaults.Player.TickInterval, "Local position advance interval")
	flags.Duration("optimistic-window", 0, "How long an optimistic value outranks older reports (default 2x poll interval)")
	flags.Bool("rollback-on-failure", false, "Revert optimistic changes when a command fails")
	flags.Duration("enqueue-pacing", defaults.Player.EnqueuePacing, "Delay between true-shuffle queue additions")
	flags.Int("play-batch-size", defaults.Player.PlayBatchSize, "Tracks started directly by a true-shuffle play request")
	flags.String("server-host", defaults.Server.Host, "HTTP server host")
	flags.Int("server-port", defaults.Server.Port, "HTTP server port")
	flags.Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureSpotify(cfg)
	configurePipeline(cfg)
	configureShuffle(cfg)
	configurePlayer(cfg)
	configureServer(cfg)

	return cfg
}

func configureSpotify(cfg *core.Config) {
	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	cfg.Spotify.RedirectURL = viper.GetString("spotify-redirect-url")
	cfg.Spotify.TokenPath = viper.GetString("spotify-token-path")
	cfg.Spotify.BaseURL = viper.GetString("spotify-api-url")
}

func configurePipeline(cfg *core.Config) {
	cfg.Pipeline.MaxRetries = viper.GetInt("max-retries")
	cfg.Pipeline.RequestTimeout = viper.GetDuration("request-timeout")
	cfg.Cache.TTL = viper.GetDuration("cache-ttl")
	cfg.Cache.MaxEntries = viper.GetInt("cache-max-entries")
}

func configureShuffle(cfg *core.Config) {
	cfg.Shuffle.BatchSize = viper.GetInt("shuffle-batch-size")
	cfg.Shuffle.BatchThreshold = viper.GetInt("batch-shuffle-threshold")
	cfg.Shuffle.NoAdjacentThreshold = viper.GetInt("no-adjacent-threshold")
}

func configurePlayer(cfg *core.Config) {
	cfg.Player.PollInterval = viper.GetDuration("poll-interval")
	cfg.Player.TickInterval = viper.GetDuration("tick-interval")
	cfg.Player.OptimisticWindow = viper.GetDuration("optimistic-window")
	if cfg.Player.OptimisticWindow <= 0 {
		cfg.Player.OptimisticWindow = 2 * cfg.Player.PollInterval
	}
	cfg.Player.RollbackOnFailure = viper.GetBool("rollback-on-failure")
	cfg.Player.EnqueuePacing = viper.GetDuration("enqueue-pacing")
	cfg.Player.PlayBatchSize = viper.GetInt("play-batch-size")
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if strings.ToLower(format) == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func runPlaydeck(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting playdeck",
		zap.Duration("poll_interval", config.Player.PollInterval),
		zap.Bool("rollback_on_failure", config.Player.RollbackOnFailure),
		zap.String("api_url", config.Spotify.BaseURL))

	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	svcs := initializeServices()
	defer svcs.controller.Close()

	return runServices(ctx, svcs)
}

type services struct {
	sync       *player.Sync
	controller *player.Controller
	httpServer *httpserver.Server
}

func initializeServices() *services {
	metrics := httpserver.NewMetrics()

	tokens := spotify.NewFileTokenProvider(&config.Spotify, logger.Named("tokens"))
	opts := api.OptionsFromConfig(config)
	opts.Observer = metrics
	pipeline := api.NewPipeline(tokens, opts, logger.Named("pipeline"))

	client := spotify.NewClient(pipeline, config.Cache, logger.Named("spotify"))
	client.SetCacheObserver(metrics)

	store := player.NewStore(config.Player, logger.Named("store"))
	store.SetObserver(metrics)
	store.Subscribe(logTrackChanges)

	poller := player.NewPoller(client, store, config.Player.PollInterval, logger.Named("poller"))
	feed := player.NewPushFeed(store, logger.Named("push"))

	controller := player.NewController(
		store,
		client,
		client,
		shuffle.PolicyFromConfig(config.Shuffle),
		config.Player,
		logger.Named("controller"),
	)
	controller.SetObserver(metrics)
	controller.SetNudger(poller)

	httpServer := httpserver.NewServer(&config.Server, httpserver.Deps{
		Player:  controller,
		State:   store,
		Events:  feed,
		Catalog: client,
	}, metrics, logger.Named("http"))

	return &services{
		sync:       &player.Sync{Store: store, Poller: poller, Feed: feed},
		controller: controller,
		httpServer: httpServer,
	}
}

func logTrackChanges(newState, oldState core.PlaybackState) {
	if newState.TrackID == oldState.TrackID {
		return
	}
	if newState.IsIdle() {
		logger.Info("Playback idle")
		return
	}
	artists := make([]string, 0, len(newState.Track.Artists))
	for _, a := range newState.Track.Artists {
		artists = append(artists, a.Name)
	}
	logger.Info("Now playing",
		zap.String("trackID", newState.TrackID),
		zap.String("title", newState.Track.Name),
		zap.String("artist", strings.Join(artists, ", ")),
		zap.String("context", newState.ContextURI))
}

func runServices(ctx context.Context, svcs *services) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svcs.httpServer.Start(gCtx)
	})

	g.Go(func() error {
		return svcs.sync.Start(gCtx)
	})

	logger.Info("playdeck started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("playdeck stopped with error", zap.Error(err))
		return err
	}

	logger.Info("playdeck stopped gracefully")
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if config.Spotify.ClientID == "" || config.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify client ID and secret are required")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	tokens := spotify.NewFileTokenProvider(&config.Spotify, logger.Named("tokens"))
	pipeline := api.NewPipeline(tokens, api.OptionsFromConfig(config), logger.Named("pipeline"))
	client := spotify.NewClient(pipeline, config.Cache, logger.Named("spotify"))

	patch, err := client.CurrentPlayback(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch playback: %w", err)
	}
	if remaining, resetAt, known := pipeline.RateLimit().Snapshot(); known {
		logger.Debug("Rate limit window",
			zap.Int("remaining", remaining),
			zap.Time("resetAt", resetAt))
	}

	store := player.NewStore(config.Player, logger.Named("store"))
	store.ApplyAuthoritative(patch, player.SourcePoll, time.Now())

	state := store.GetState()
	if state.IsIdle() {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing is playing")
		return nil
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(state)
}

func runLogin(cmd *cobra.Command, _ []string) error {
	if config.Spotify.ClientID == "" || config.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify client ID and secret are required")
	}

	tokens := spotify.NewFileTokenProvider(&config.Spotify, logger.Named("tokens"))
	return tokens.Authorize(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
}

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), spotify.FilePermission); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("Successfully generated .env.example file")
	return nil
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder
	content.WriteString("# playdeck configuration\n")
	content.WriteString("# Every setting can also be passed as a CLI flag of the same name.\n\n")

	cmd.Root().PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "generate-env-example" {
			return
		}
		fmt.Fprintf(&content, "# %s\n", f.Usage)
		fmt.Fprintf(&content, "%s=%s\n\n", flagToEnvVar(f.Name), f.DefValue)
	})

	return content.String()
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}
