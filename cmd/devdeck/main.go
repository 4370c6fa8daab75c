package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/devdeck/internal/api"
	"github.com/user/devdeck/internal/config"
	"github.com/user/devdeck/internal/controller"
	"github.com/user/devdeck/internal/db"
	"github.com/user/devdeck/internal/discovery"
	"github.com/user/devdeck/internal/scan"
	"github.com/user/devdeck/internal/server"
	"github.com/user/devdeck/internal/session"
	"github.com/user/devdeck/internal/stream"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.PrintToken {
		fmt.Println(cfg.Token)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	registry := session.NewRegistry(
		session.WithShell(cfg.Shell),
		session.WithBufferLines(cfg.OutputBufferLines),
	)
	defer registry.Close()

	ctrl := controller.New(registry)
	gateway := stream.NewGateway(registry)

	projectRepo := db.NewProjectRepo(database.SQL())
	walker := discovery.NewWalker(cfg.Scan.Exclude, projectRecorder{repo: projectRepo})
	coordinator := scan.NewCoordinator(walker, scan.Request{
		Directories: cfg.Scan.Roots,
		MaxDepth:    cfg.Scan.MaxDepth,
	})

	apiHandler := api.NewRouter(database.SQL(), registry, ctrl, cfg.Token)

	fmt.Printf("\ndevdeck running at http://localhost:%d?token=%s\n\n", cfg.Port, cfg.Token)

	srv := server.New(cfg, gateway, coordinator, apiHandler)
	if err := srv.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// projectRecorder adapts the project repository to the discovery
// recorder contract.
type projectRecorder struct {
	repo *db.ProjectRepo
}

func (p projectRecorder) RecordProject(ctx context.Context, name, path string) error {
	_, err := p.repo.UpsertByPath(ctx, name, path)
	return err
}
