// tradeschool: tool server for the voice training agent.
// Receives agent tool calls, relays commands to trainee clients over the
// room data channel and answers with what they send back.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teslashibe/go-tradeschool/internal/config"
	"github.com/teslashibe/go-tradeschool/internal/log"
	"github.com/teslashibe/go-tradeschool/pkg/correlator"
	"github.com/teslashibe/go-tradeschool/pkg/hub"
	"github.com/teslashibe/go-tradeschool/pkg/relay"
	"github.com/teslashibe/go-tradeschool/pkg/room"
	"github.com/teslashibe/go-tradeschool/pkg/server"
	"github.com/teslashibe/go-tradeschool/pkg/tools"
	"github.com/teslashibe/go-tradeschool/pkg/vision"
)

var (
	version    = "1.0.0"
	configPath = flag.String("config", "", "Optional YAML config file")
	port       = flag.Int("port", 0, "HTTP server port (overrides config)")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	mockVision = flag.Bool("mock-vision", false, "Answer screenshots with the mock vision answer")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Port = *port
	}
	if *debug {
		cfg.EnableDebug()
	}
	log.Init(cfg.LogLevel)
	logger := log.Component("main")

	fmt.Println()
	fmt.Println("🔧 Tradeschool v" + version)
	fmt.Println("   Tool server for the voice training agent")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, mode, err := buildVision(cfg)
	if err != nil {
		logger.Error("vision setup failed", "error", err)
		os.Exit(1)
	}
	logger.Info("vision ready", "mode", mode)

	corr := correlator.New(correlator.WithDefaultTimeout(cfg.ToolTimeout))
	defer corr.Close()

	var roomOpts []room.Option
	if len(cfg.ICEServers) > 0 {
		roomOpts = append(roomOpts, room.WithICEServers(cfg.ICEServers...))
	}
	rooms := room.NewHub(roomOpts...)
	defer rooms.Close()

	events := hub.New(hub.DefaultReplay)
	go events.Run(ctx)

	dedupe, closeDedupe, err := buildDedupe(ctx, cfg)
	if err != nil {
		logger.Error("dedupe setup failed", "error", err)
		os.Exit(1)
	}
	defer closeDedupe()

	router, err := tools.NewRouter(tools.Config{
		Transport:  rooms,
		Correlator: corr,
		Vision:     vision.NewAdapter(provider, vision.WithMaxImageBytes(cfg.MaxImageBytes)),
		Dedupe:     dedupe,
		Events:     events,
		Timeout:    cfg.ToolTimeout,
	})
	if err != nil {
		logger.Error("router setup failed", "error", err)
		os.Exit(1)
	}

	srvCfg := server.Config{
		Router:     router,
		Correlator: corr,
		Rooms:      rooms,
		Events:     events,
		VisionMode: mode,
		Version:    version,
		Debug:      cfg.Debug,
	}

	if cfg.NATSURL != "" {
		rel, closeRelay, err := buildRelay(cfg.NATSURL, corr)
		if err != nil {
			logger.Error("relay setup failed", "error", err)
			os.Exit(1)
		}
		defer closeRelay()
		srvCfg.Relay = rel
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		logger.Error("server setup failed", "error", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("starting server", "addr", cfg.Addr())
		logger.Info("endpoints",
			"webhook", fmt.Sprintf("http://localhost:%d/api/tools/webhook", cfg.Port),
			"results", fmt.Sprintf("http://localhost:%d/api/tool-results", cfg.Port),
			"rooms", fmt.Sprintf("ws://localhost:%d/ws/rooms/:room/:identity", cfg.Port),
			"events", fmt.Sprintf("ws://localhost:%d/ws/events", cfg.Port),
		)
		if err := srv.Listen(cfg.Addr()); err != nil {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	logger.Info("goodbye")
}

// buildVision picks the inference providers. OpenAI is tried first and
// Gemini second; with neither configured the mock answer is used.
func buildVision(cfg config.Config) (vision.Provider, string, error) {
	if *mockVision || !cfg.HasVisionCredentials() {
		return nil, "mock", nil
	}

	var providers []vision.Provider
	if cfg.OpenAIAPIKey != "" {
		opts := []vision.Option{
			vision.WithAPIKey(cfg.OpenAIAPIKey),
			vision.WithModel(cfg.OpenAIVisionModel),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, vision.WithBaseURL(cfg.OpenAIBaseURL))
		}
		p, err := vision.NewOpenAI(opts...)
		if err != nil {
			return nil, "", err
		}
		providers = append(providers, p)
	}
	if cfg.GoogleAPIKey != "" {
		p, err := vision.NewGemini(
			vision.WithAPIKey(cfg.GoogleAPIKey),
			vision.WithModel(cfg.GeminiModel),
		)
		if err != nil {
			return nil, "", err
		}
		providers = append(providers, p)
	}

	if len(providers) == 1 {
		return providers[0], providers[0].Name(), nil
	}
	chain, err := vision.NewChainWithLogger(log.Component("vision"), providers...)
	if err != nil {
		return nil, "", err
	}
	return chain, chain.Name(), nil
}

func buildDedupe(ctx context.Context, cfg config.Config) (tools.Dedupe, func(), error) {
	if cfg.RedisAddress == "" {
		return tools.NewMemoryDedupe(cfg.DedupeTTL), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddress, err)
	}
	return tools.NewRedisDedupe(rdb, "", cfg.DedupeTTL), func() { rdb.Close() }, nil
}

func buildRelay(url string, corr *correlator.Correlator) (*relay.Relay, func(), error) {
	var embedded *relay.Server
	if url == relay.EmbeddedURL {
		ns, err := relay.StartServer(-1)
		if err != nil {
			return nil, nil, err
		}
		embedded = ns
		url = ns.ClientURL()
	}

	rel, err := relay.Connect(url, corr)
	if err != nil {
		if embedded != nil {
			embedded.Stop()
		}
		return nil, nil, err
	}
	log.Component("main").Info("result relay ready", "nats", url)
	return rel, func() {
		rel.Close()
		if embedded != nil {
			embedded.Stop()
		}
	}, nil
}
