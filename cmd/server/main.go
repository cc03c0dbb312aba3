// Package main provides the entry point for the web proxy server.
// The server exposes OpenAI/Gemini/Claude compatible API interfaces and
// fulfills requests by driving the web-session endpoints of upstream AI
// providers with pooled end-user credentials.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/WebProxyAPI/internal/api"
	"github.com/router-for-me/WebProxyAPI/internal/config"
	"github.com/router-for-me/WebProxyAPI/internal/logging"
	"github.com/router-for-me/WebProxyAPI/internal/pool"
	"github.com/router-for-me/WebProxyAPI/internal/provider/deepseek"
	"github.com/router-for-me/WebProxyAPI/internal/provider/grok"
	"github.com/router-for-me/WebProxyAPI/internal/registry"
	"github.com/router-for-me/WebProxyAPI/internal/tokencache"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	fmt.Printf("WebProxyAPI Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)

	var configPath string
	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.Parse()

	// .env is optional; it typically carries NODE_ENV for cookie hardening.
	_ = godotenv.Load()

	if configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
		configPath = filepath.Join(wd, "config.yaml")
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err = logging.ConfigureLogOutput(cfg.LoggingToFile); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}
	logging.SetDebug(cfg.Debug)
	log.Infof("WebProxyAPI Version: %s, Commit: %s, BuiltAt: %s", Version, Commit, BuildDate)

	cache := tokencache.New(cfg.AccountsDir)
	defer cache.Close()
	selector := pool.NewSelector()
	reg := registry.New()

	var deepseekAdapter *deepseek.Adapter
	if cfg.ProjectEnabled(deepseek.Project) {
		deepseekAdapter = deepseek.New(cfg, cache, selector)
		reg.Register(deepseekAdapter, deepseek.OwnerTag)
		cache.PreloadProject(context.Background(), deepseek.Project)
		log.Infof("registered deepseek adapter with %d models", len(deepseekAdapter.Models()))
	}
	var grokAdapter *grok.Adapter
	if cfg.ProjectEnabled(grok.Project) {
		grokAdapter = grok.New(cfg, cache, cfg.DataDir)
		reg.Register(grokAdapter, grok.OwnerTag)
		cache.PreloadProject(context.Background(), grok.Project)
		log.Infof("registered grok adapter with %d models", len(grokAdapter.Models()))
	}
	if deepseekAdapter == nil && grokAdapter == nil {
		log.Warn("no provider projects enabled; only the management surface will respond")
	}

	server := api.New(cfg, reg, cache, selector, deepseekAdapter, grokAdapter)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
	case err = <-errCh:
		if err != nil {
			log.Errorf("server stopped: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("shutdown: %v", err)
	}
	if grokAdapter != nil {
		grokAdapter.Stop()
	}
	if deepseekAdapter != nil {
		deepseekAdapter.Close(shutdownCtx)
	}
}
