package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bluesky-social/mediamod/automod/scan"
	"github.com/bluesky-social/mediamod/automod/visual"
	"github.com/bluesky-social/mediamod/search"
	"github.com/bluesky-social/mediamod/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "sieve",
		Usage:   "media moderation daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"SIEVE_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format (text or json)",
			Value:   "json",
			EnvVars: []string{"SIEVE_LOG_FORMAT"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		hiveClassifyCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context) (*slog.Logger, error) {
	return cliutil.SetupSlog(cliutil.LogOptions{
		LogLevel:  cctx.String("log-level"),
		LogFormat: cctx.String("log-format"),
	})
}

// Parses a comma-separated list of scan source names.
func parseSources(raw string) ([]scan.Source, error) {
	var out []scan.Source
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		src, err := scan.ParseSource(s)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/sieve/mediamod.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			Usage:   "emit OpenTelemetry spans for database queries",
			EnvVars: []string{"SIEVE_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL; in-process stores are used when empty",
			EnvVars: []string{"SIEVE_REDIS_URL"},
		},
		&cli.DurationFlag{
			Name:    "cache-ttl",
			Usage:   "how long tag resolutions are cached",
			Value:   30 * time.Minute,
			EnvVars: []string{"SIEVE_CACHE_TTL"},
		},
		&cli.StringFlag{
			Name:    "required-sources",
			Usage:   "comma-separated scan sources which must all report before a disposition is decided",
			Value:   "word-tagger,sentiment,severity",
			EnvVars: []string{"SIEVE_REQUIRED_SOURCES"},
		},
		&cli.StringFlag{
			Name:    "sets-json-path",
			Usage:   "file path of JSON file containing static sets",
			EnvVars: []string{"SIEVE_SETS_JSON_PATH"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token for admin endpoints; admin endpoints are disabled when empty",
			EnvVars: []string{"SIEVE_ADMIN_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "opensearch-hosts",
			Usage:   "comma-separated OpenSearch URLs; indexing is disabled when empty",
			EnvVars: []string{"OPENSEARCH_HOSTS", "ES_HOSTS"},
		},
		&cli.StringFlag{
			Name:    "opensearch-username",
			Value:   "admin",
			EnvVars: []string{"OPENSEARCH_USERNAME", "ES_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "opensearch-password",
			Value:   "admin",
			EnvVars: []string{"OPENSEARCH_PASSWORD", "ES_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "opensearch-cert-file",
			EnvVars: []string{"OPENSEARCH_CERT_FILE", "ES_CERT_FILE"},
		},
		&cli.StringFlag{
			Name:    "opensearch-media-index",
			Value:   "mediamod_media",
			EnvVars: []string{"OPENSEARCH_MEDIA_INDEX", "ES_MEDIA_INDEX"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3999",
			EnvVars: []string{"SIEVE_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"SIEVE_METRICS_LISTEN"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}

		shutdownOTEL, err := configOTEL("sieve")
		if err != nil {
			return err
		}
		defer shutdownOTEL()

		sources, err := parseSources(cctx.String("required-sources"))
		if err != nil {
			return err
		}

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}

		srv, err := NewServer(
			db,
			Config{
				Logger:          logger,
				RedisURL:        cctx.String("redis-url"),
				SetsFileJSON:    cctx.String("sets-json-path"),
				SlackWebhookURL: cctx.String("slack-webhook-url"),
				AdminToken:      cctx.String("admin-token"),
				RequiredSources: sources,
				CacheTTL:        cctx.Duration("cache-ttl"),
				DBTracing:       cctx.Bool("db-tracing"),
				Search: search.Config{
					Hosts:    cctx.String("opensearch-hosts"),
					Username: cctx.String("opensearch-username"),
					Password: cctx.String("opensearch-password"),
					CertFile: cctx.String("opensearch-cert-file"),
					Index:    cctx.String("opensearch-media-index"),
				},
			},
		)
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.Run(cctx.String("bind")); err != nil {
			return fmt.Errorf("failed to run sieve service: %w", err)
		}
		return nil
	},
}

var hiveClassifyCmd = &cli.Command{
	Name:      "hive-classify",
	Usage:     "send an image file to Hive and print the resulting scan submission",
	ArgsUsage: "<file>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "hiveai-api-token",
			Usage:    "API token for Hive AI image auto-labeling",
			EnvVars:  []string{"HIVEAI_API_TOKEN"},
			Required: true,
		},
		&cli.Int64Flag{
			Name:  "media-id",
			Usage: "media ID to put in the submission",
			Value: 1,
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		if _, err := configLogger(cctx); err != nil {
			return err
		}
		p := cctx.Args().First()
		if p == "" {
			return fmt.Errorf("need to provide file path as an argument")
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}

		hc := visual.NewHiveClient(cctx.String("hiveai-api-token"))
		resp, err := hc.Classify(ctx, filepath.Base(p), data)
		if err != nil {
			return err
		}
		sub, err := resp.ToSubmission(cctx.Int64("media-id"))
		if err != nil {
			return err
		}
		b, err := json.MarshalIndent(sub, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	},
}
