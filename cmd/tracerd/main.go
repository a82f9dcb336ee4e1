// Command tracerd is the host-resident daemon: it writes its PID file,
// loads configuration, and serves the control socket and scheduler loop in
// the foreground until terminated. Backgrounding is done by cmd/tracer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tracer-cloud/tracerd/internal/agent"
	"github.com/tracer-cloud/tracerd/internal/control"
	"github.com/tracer-cloud/tracerd/internal/enrich"
	"github.com/tracer-cloud/tracerd/internal/sink/db"
	"github.com/tracer-cloud/tracerd/internal/sink/export"
	"github.com/tracer-cloud/tracerd/internal/tconfig"
)

const (
	pidFilePath  = "/tmp/tracerd.pid"
	cacheDirPath = "/tmp/tracerd_cache"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tracerd:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := writePIDFile(); err != nil {
		return err
	}
	defer os.Remove(pidFilePath)

	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps := agent.Dependencies{Metadata: enrich.NewIMDSProvider()}

	if pricingClient, err := enrich.NewPricingClient(ctx); err == nil {
		deps.Pricing = pricingClient
	}

	if cfg.DBURL != "" {
		rowSink, err := db.Open(ctx, cfg.DBURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tracerd: row sink unavailable, continuing without it: %v\n", err)
		} else {
			defer rowSink.Close()
			deps.RowSink = rowSink
		}
	}

	var uploader export.Uploader
	if cfg.ExportBucket != "" {
		mirror, err := export.NewS3Mirror(ctx, export.S3Config{
			Bucket:  cfg.ExportBucket,
			Region:  cfg.AWSRegion,
			Profile: cfg.AWSProfile,
			RoleARN: cfg.AWSRoleARN,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "tracerd: export mirror unavailable, continuing without it: %v\n", err)
		} else {
			uploader = mirror
			deps.FileUploader = mirror
		}
	}

	columnar := export.New(filepath.Join("/tmp", "tracerd-exports"), uploader)
	columnar.OnMirrorFailure = func(err error) {
		fmt.Fprintf(os.Stderr, "tracerd: export mirror upload failed: %v\n", err)
	}
	deps.ColumnarSink = columnar

	a, err := agent.New(cfg, cfgPath, cacheDirPath, deps)
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}

	srv, err := control.NewServer(control.DefaultSocketPath, terminatingHandler{Agent: a, cancel: cancel})
	if err != nil {
		return fmt.Errorf("start control server: %w", err)
	}
	defer srv.Close()

	go func() {
		if err := srv.Serve(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "tracerd: control server:", err)
		}
	}()

	if pipelineName := os.Getenv("TRACER_PIPELINE_NAME"); pipelineName != "" {
		var tags []string
		if raw := os.Getenv("TRACER_TAGS"); raw != "" {
			tags = strings.Split(raw, ",")
		}
		if _, err := a.StartRun(ctx, pipelineName, os.Getenv("TRACER_RUN_ID"), tags); err != nil {
			fmt.Fprintf(os.Stderr, "tracerd: start initial run: %v\n", err)
		}
	}

	return a.Run(ctx)
}

// terminatingHandler answers control commands with the agent and, on a
// successful terminate, cancels the daemon's main context so Run performs
// its final submit and returns.
type terminatingHandler struct {
	*agent.Agent
	cancel context.CancelFunc
}

func (h terminatingHandler) Terminate(ctx context.Context) error {
	if err := h.Agent.Terminate(ctx); err != nil {
		return err
	}
	h.cancel()
	return nil
}

// loadConfig returns the resolved configuration and the path it was (or
// would have been) loaded from, so the agent can later Reload from the same
// file.
func loadConfig() (tconfig.Config, string, error) {
	path, err := tconfig.DefaultPath()
	if err != nil {
		return tconfig.Config{}, "", err
	}

	cfg, err := tconfig.Load(path)
	if err != nil {
		// A missing or invalid config file is not fatal: fall back to
		// documented defaults, as the wire contract requires.
		fmt.Fprintf(os.Stderr, "tracerd: using default configuration: %v\n", err)
		return tconfig.Default(), path, nil
	}
	return cfg, path, nil
}

func writePIDFile() error {
	return os.WriteFile(pidFilePath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
