package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/quantnexusai/radreport-ai/internal/claude"
	"github.com/quantnexusai/radreport-ai/internal/config"
	"github.com/quantnexusai/radreport-ai/internal/generator"
	"github.com/quantnexusai/radreport-ai/internal/httpapi"
	"github.com/quantnexusai/radreport-ai/internal/pdf"
	"github.com/quantnexusai/radreport-ai/internal/store"
)

func main() {
	var (
		configFile = flag.String("config", "", "Optional config file (yaml/toml/json)")
		addr       = flag.String("addr", "", "Listen address (overrides config)")
		dbPath     = flag.String("db", "", "SQLite database path (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal(err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := st.Seed(ctx); err != nil {
		log.Fatalf("seed store: %v", err)
	}

	ai, err := claude.NewClient(claude.Config{
		APIKey:            cfg.AnthropicAPIKey,
		Model:             cfg.Model,
		RequestsPerMinute: cfg.RequestsPerMinute,
	})
	if err != nil {
		log.Fatalf("anthropic client: %v", err)
	}

	gen := generator.New(st, ai, ai, ai, generator.Config{
		FallbackImpression: cfg.FallbackImpression,
		CacheTTL:           cfg.CacheTTL,
	})

	if cfg.AdminToken == "" {
		log.Printf("warning: admin token not configured, admin surface is disabled")
	}

	handler := httpapi.NewServer(gen, st, pdf.NewRenderer(cfg.ChromePath), ai, cfg.AdminToken)

	log.Printf("radreport listening on %s (db=%s)", cfg.Addr, cfg.DBPath)
	srv := &http.Server{Addr: cfg.Addr, Handler: handler}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
