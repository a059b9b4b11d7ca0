package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "superagent/app/configs"
	"superagent/app/core/interaction/cli"
	"superagent/app/core/interaction/gateway"
	"superagent/app/core/interaction/http"
	"superagent/app/core/orchestrator/command"
	"superagent/app/core/orchestrator/db"
	"superagent/app/core/orchestrator/router"
	"superagent/app/core/orchestrator/task"
	"superagent/app/core/orchestrator/worker"
	"superagent/app/core/scheduler"
	"superagent/app/pkg/logger"
)

func main() {
	if err := logger.Init("output/logs"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("SuperAgent Starting...")

	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	database, err := db.NewSQLiteDB("output/db")
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized successfully")

	taskStore := task.NewStore(database)
	registry := worker.NewRegistry(cfg.Worker, taskStore)
	agentRouter := router.New(registry)

	dispatchTimeout := time.Duration(cfg.Worker.RequestTimeoutSec) * time.Second
	taskScheduler := scheduler.New(taskStore, agentRouter, scheduler.Config{
		Workers:         cfg.Scheduler.Workers,
		QueueBuffer:     cfg.Scheduler.QueueBuffer,
		StaleRunning:    time.Duration(cfg.Scheduler.StaleRunningMin) * time.Minute,
		DispatchTimeout: dispatchTimeout,
		KnownSkills:     registry.Has,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := taskScheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler: %v", err)
		os.Exit(1)
	}
	shutdownTimeout := time.Duration(cfg.Scheduler.ShutdownTimeoutSec) * time.Second
	defer func() {
		if err := taskScheduler.Stop(shutdownTimeout); err != nil {
			logger.Error("Scheduler shutdown timeout: %v", err)
		}
	}()

	if err := taskScheduler.ReconcileOnStart(ctx); err != nil {
		logger.Error("Startup reconciliation failed: %v", err)
		os.Exit(1)
	}

	executor := command.NewExecutor(cfg.Agent.Name, agentRouter, taskScheduler, taskStore, cfg.Scheduler.HistoryListLimit)

	gw := gateway.New(executor)
	gw.RegisterChannel(cli.NewCLIChannel(cfg.Agent.CLIUserID))

	apiServer := http.NewServer(cfg.HTTP.Port, agentRouter, taskScheduler, taskStore)
	apiServer.SetStatusProvider(gw.HealthStatus)
	// Surface crashes through a channel instead of exiting in place, so the
	// deferred scheduler Stop and database Close still run.
	errChan := make(chan error, 2)
	go func() {
		errChan <- apiServer.Start(ctx)
	}()
	go func() {
		errChan <- gw.Start(ctx)
	}()

	logger.Info("SuperAgent is ready to serve.")
	fmt.Println("- CLI Interface:  Interactive")
	fmt.Printf("- HTTP Interface: http://localhost:%d/api/dispatch (POST)\n", cfg.HTTP.Port)
	fmt.Printf("- Schedules API:  http://localhost:%d/api/schedules\n", cfg.HTTP.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Received signal: %v. SuperAgent Shutting Down...", sig)
	case err := <-errChan:
		if err != nil {
			logger.Error("Fatal: %v. SuperAgent Shutting Down...", err)
		} else {
			logger.Info("Interaction layer exited. SuperAgent Shutting Down...")
		}
	}
	cancel()
}
