package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maverick-run/maverick/runtime"
	"github.com/maverick-run/maverick/transport"
	"github.com/maverick-run/maverick/workflow"
)

// ServeCmd starts the HTTP transport bound to the ambient config's server
// settings.
type ServeCmd struct {
	Port int `help:"Override the configured server port (0 = use config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	rt, err := runtime.New(cfg)
	if err != nil {
		return fmt.Errorf("building runtime: %w", err)
	}
	defer rt.Shutdown(context.Background())

	lookup := func(name string) (*workflow.Workflow, error) {
		return rt.Registry.Workflows.Get(name)
	}
	promHandler := promhttp.HandlerFor(rt.PrometheusRegistry(), promhttp.HandlerOpts{})
	srv := transport.New(rt, lookup, promHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv}

	errCh := make(chan error, 1)
	go func() {
		rt.Logger.Info("serving", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
