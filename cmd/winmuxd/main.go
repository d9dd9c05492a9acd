// winmuxd is the background daemon that hosts long-lived PTY-backed shell
// sessions and serves them over a local named-pipe RPC.
//
// Usage:
//
//	winmuxd [--config <path>]
//
// winmuxd listens on the well-known pipe \\.\pipe\winmuxd and handles
// commands from the winmux CLI. It is normally started automatically by
// winmux; you do not need to run it by hand.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/winmux/winmux/internal/config"
	"github.com/winmux/winmux/internal/pipeserver"
	"github.com/winmux/winmux/internal/session"
)

func main() {
	log.SetPrefix("winmuxd: ")

	defaultConfig := os.Getenv("WINMUX_CONFIG")

	configPath := flag.String("config", defaultConfig, "path to winmux.json (env: WINMUX_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	registry := session.NewRegistry(session.Defaults{
		Shell: cfg.DefaultShell,
		Cwd:   cfg.DefaultCwd,
	}, cfg.MaxSessions)

	srv := pipeserver.New(registry, cfg.BufferSize)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %v, shutting down", sig)
		if err := srv.Close(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("winmuxd starting (maxSessions=%d, defaultShell=%s)", cfg.MaxSessions, cfg.DefaultShell)
	if err := srv.Run(); err != nil {
		log.Fatalf("daemon run: %v", err)
	}
}
