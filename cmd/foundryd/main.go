// foundryd is the pipeline daemon: it hosts the orchestrator engine and
// the HTTP API, resumes interrupted sessions on startup, and shuts down
// gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/draftfoundry/foundry/internal/checkpoint"
	"github.com/draftfoundry/foundry/internal/config"
	"github.com/draftfoundry/foundry/internal/orchestrator"
	"github.com/draftfoundry/foundry/internal/router"
	"github.com/draftfoundry/foundry/internal/server"
	"github.com/draftfoundry/foundry/internal/stage"
	"github.com/draftfoundry/foundry/pkg/blackboard"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// 1. Load configuration (FOUNDRY_CONFIG overrides the default path;
	//    built-in defaults apply when no file exists).
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// 2. Build the checkpoint store and event bridge.
	store, bridge, err := buildBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	defer bridge.Close()

	// 3. Build the model client shared by stages and the advisor.
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY must be set")
	}
	llm, err := stage.NewOpenAIClient(apiKey, cfg.LLM.Model, *cfg.LLM.Temperature)
	if err != nil {
		return err
	}

	// 4. Assemble router and stages.
	var advisor router.Advisor
	if cfg.LLM.AdvisorEnabled {
		advisor = router.NewLLMAdvisor(llm)
	}
	rtr := router.New(advisor, router.Config{
		MinIterations:   *cfg.Pipeline.LoopMinIterations,
		RepeatThreshold: *cfg.Pipeline.LoopRepeatThreshold,
		Window:          *cfg.Pipeline.LoopWindow,
	})

	registry, err := buildStages(llm)
	if err != nil {
		return err
	}

	// 5. Start the engine and resume any sessions a previous run left
	//    behind.
	engine, err := orchestrator.NewEngine(store, bridge, rtr, registry, *cfg.Pipeline.MaxIterations)
	if err != nil {
		return err
	}
	defer engine.Shutdown()

	if err := engine.ResumeAll(ctx); err != nil {
		return fmt.Errorf("failed to resume sessions: %w", err)
	}

	// 6. Serve the HTTP API.
	srv := server.NewServer(engine, store, cfg.Server.ListenAddr)
	if err := srv.Start(); err != nil {
		return err
	}
	fmt.Printf("foundryd listening on %s (instance %q, backend %s)\n",
		cfg.Server.ListenAddr, cfg.Instance, cfg.Checkpoint.Backend)

	// 7. Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Printf("Received %s, shutting down...\n", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadConfig() (*config.FoundryConfig, error) {
	path := os.Getenv("FOUNDRY_CONFIG")
	if path == "" {
		path = "foundry.yml"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && os.Getenv("FOUNDRY_CONFIG") == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildBackend(ctx context.Context, cfg *config.FoundryConfig) (checkpoint.Store, orchestrator.Bridge, error) {
	if cfg.Checkpoint.Backend == "memory" {
		return checkpoint.NewMemoryStore(), orchestrator.NewMemoryBridge(), nil
	}

	redisURL, err := cfg.RedisURL()
	if err != nil {
		return nil, nil, err
	}

	store, err := checkpoint.NewRedisStore(ctx, redisURL, cfg.Instance)
	if err != nil {
		return nil, nil, err
	}
	bridge, err := orchestrator.NewRedisBridge(ctx, redisURL, cfg.Instance)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, bridge, nil
}

func buildStages(llm stage.LLMClient) (stage.Registry, error) {
	safety, err := stage.NewReviewer(llm, blackboard.AxisSafety)
	if err != nil {
		return nil, err
	}
	clinical, err := stage.NewReviewer(llm, blackboard.AxisClinical)
	if err != nil {
		return nil, err
	}
	return stage.NewRegistry(
		stage.NewGenerator(llm),
		safety,
		clinical,
		stage.NewDeliberator(llm),
		stage.NewHalt(),
	)
}
