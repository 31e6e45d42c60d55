package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"lumina/api"
	"lumina/config"
	"lumina/job"
	"lumina/media"
	"lumina/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("failed to prepare storage: %v", err)
	}

	transcoder, err := media.NewTranscoder(cfg.FFmpegBin, cfg.FFprobeBin, cfg.ToolTimeout, cfg.EncodeArgs)
	if err != nil {
		log.Fatalf("failed to initialize transcoder: %v", err)
	}
	upscaler := media.NewUpscaler(cfg.UpscalerModels, cfg.ToolTimeout)
	enhancer := media.NewEnhancer(cfg.ToolTimeout)

	sequencer := pipeline.NewSequencer(upscaler, enhancer, transcoder, cfg.OutputDir(), cfg.FramesDir())
	manager := job.NewManager(job.NewStore(), sequencer, cfg.Workers)

	health := func() media.HealthReport {
		return media.Health(transcoder, upscaler, enhancer)
	}
	handler := api.NewHandler(manager, cfg, enhancer, health)
	router := api.SetupRouter(handler, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager.Start(ctx)

	go func() {
		log.Printf("server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	stop()
	log.Println("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("server forced to shutdown: ", err)
	}
	manager.Wait()

	log.Println("server exiting")
}
