package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/flarexio/faceblade"
	"github.com/flarexio/faceblade/embedding"
	"github.com/flarexio/faceblade/persistence"

	mcpE "github.com/flarexio/faceblade/mcp"
	httpT "github.com/flarexio/faceblade/transport/http"
	natsT "github.com/flarexio/faceblade/transport/nats"
)

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "faceblade",
		Usage: "FaceBlade face identity service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "path",
				Usage:   "Path to the FaceBlade service",
				Sources: cli.EnvVars("FACEBLADE_PATH"),
			},
			&cli.StringFlag{
				Name:    "nats",
				Usage:   "NATS server URL, empty disables the NATS transport",
				Value:   "wss://nats.flarex.io",
				Sources: cli.EnvVars("NATS_URL"),
			},
			&cli.BoolFlag{
				Name:  "http",
				Usage: "Enable HTTP transport",
				Value: true,
			},
			&cli.StringFlag{
				Name:  "http-addr",
				Usage: "HTTP server address",
				Value: ":8080",
			},
			&cli.StringFlag{
				Name:    "threshold",
				Usage:   "Recognition threshold in (0,1), overrides the config file",
				Sources: cli.EnvVars("RECOGNITION_THRESH"),
			},
		},
		Action: run,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err.Error())
	}
}

func loadConfig(path string) (faceblade.Config, error) {
	var cfg faceblade.Config

	f, err := os.Open(filepath.Join(path, "config.yaml"))
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, err
	}

	if cfg.Vector.Path == "" {
		cfg.Vector.Path = filepath.Join(path, "vectors")
	}

	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("path")
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		path = filepath.Join(homeDir, ".flarex", "faceblade")
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	zap.ReplaceGlobals(log)

	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	if thresh := cmd.String("threshold"); thresh != "" {
		t, err := faceblade.ParseThreshold(thresh)
		if err != nil {
			return err
		}

		cfg.Recognition.Threshold = t
	}

	var nc *nats.Conn

	natsURL := cmd.String("nats")
	edgeID := ""
	if natsURL != "" {
		idBytes, err := os.ReadFile(filepath.Join(path, "id"))
		if err != nil {
			return err
		}

		edgeID = strings.TrimSpace(string(idBytes))

		opts := []nats.Option{
			nats.Name("FaceBlade Server - " + edgeID),
		}

		natsCreds := filepath.Join(path, "user.creds")
		if _, err := os.Stat(natsCreds); err == nil {
			opts = append(opts, nats.UserCredentials(natsCreds))
		}

		nc, err = nats.Connect(natsURL, opts...)
		if err != nil {
			return err
		}
		defer nc.Drain()
	}

	source, err := embedding.NewSource(cfg.Embedding, nc)
	if err != nil {
		return err
	}

	store, err := persistence.NewStore(ctx, cfg.Vector)
	if err != nil {
		return err
	}

	svc, err := faceblade.NewService(ctx, cfg, store, source)
	if err != nil {
		store.Close()
		return err
	}

	svc = faceblade.LoggingMiddleware(log)(svc)
	defer svc.Close()

	endpoints := faceblade.MakeEndpoints(svc)

	// Add NATS Transport
	if nc != nil {
		srv, err := micro.AddService(nc, micro.Config{
			Name:    "faceblade",
			Version: "1.0.0",
		})

		if err != nil {
			return err
		}
		defer srv.Stop()

		topic := "edges." + edgeID + ".faceblade"

		root := srv.AddGroup(topic)
		natsT.AddEndpoints(root, endpoints)
	}

	httpEnabled := cmd.Bool("http")
	if httpEnabled {
		r := gin.Default()
		httpT.AddRouters(r, endpoints)

		endpoints := make(map[mcp.MCPMethod]mcpE.MCPEndpoint)
		endpoints[mcp.MethodInitialize] = mcpE.InitializeEndpoint(svc)
		endpoints[mcp.MethodPing] = mcpE.PingEndpoint(svc)
		endpoints[mcp.MethodToolsList] = mcpE.ListToolsEndpoint(svc)
		endpoints[mcp.MethodToolsCall] = mcpE.CallToolEndpoint(svc)
		httpT.AddStreamableRouters(r, endpoints)

		httpAddr := cmd.String("http-addr")
		go r.Run(httpAddr)
	}

	if nc == nil && !httpEnabled {
		return errors.New("no transport enabled")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sign := <-quit

	log.Info("graceful shutdown", zap.String("signal", sign.String()))
	return nil
}
