package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/amlervishal/ollamalens/core"
	"github.com/amlervishal/ollamalens/db"
	"github.com/amlervishal/ollamalens/eval"
	"github.com/amlervishal/ollamalens/llm"
	"github.com/amlervishal/ollamalens/server"
	"github.com/amlervishal/ollamalens/utils"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ollamalens v%s\n", version)
		os.Exit(0)
	}

	logger, err := utils.NewLogger(utils.GetLogPath())
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("Starting ollamalens v%s", version)

	actualConfigPath := *configPath
	if actualConfigPath == "" {
		actualConfigPath, err = utils.EnsureDefaultConfig()
		if err != nil {
			logger.Error("Failed to create default config: %v", err)
			os.Exit(1)
		}
	}
	logger.Info("Using config file: %s", actualConfigPath)

	config, err := utils.LoadConfig(actualConfigPath)
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	if *addr != "" {
		config.Server.Addr = *addr
	}

	database, err := db.New(config.Data.DBPath)
	if err != nil {
		logger.Error("Failed to initialize database: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized: %s", config.Data.DBPath)

	registry, err := buildRegistry(config, logger)
	if err != nil {
		logger.Error("Failed to build provider registry: %v", err)
		os.Exit(1)
	}

	orch := core.NewOrchestrator(registry, database, logger)
	orch.SetMaxHistory(config.Data.MaxHistory)

	judge, err := resolveJudge(registry, config)
	if err != nil {
		logger.Error("Failed to resolve evaluation backend: %v", err)
		os.Exit(1)
	}

	differentWins := true
	if config.Evaluation.DifferentWins != nil {
		differentWins = *config.Evaluation.DifferentWins
	}

	recon := eval.NewReconciler(judge, eval.Config{
		Model:           config.Evaluation.Model,
		Bound:           config.Evaluation.ScoreBound,
		EvaluateOnError: config.Evaluation.EvaluateOnError,
		DifferentWins:   differentWins,
	}, logger)
	orch.SetEvaluator(recon)

	srv := server.New(orch, recon, registry, database, logger, config.Server)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info("Shutting down")
		orch.Reset()
		database.Close()
		logger.Close()
		os.Exit(0)
	}()

	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Server stopped: %v", err)
		os.Exit(1)
	}
}

// buildRegistry constructs providers from the config
func buildRegistry(config *utils.Config, logger *utils.Logger) (*llm.Registry, error) {
	registry := llm.NewRegistry()

	for name, pc := range config.Providers {
		if !pc.Enabled {
			continue
		}

		cfg := llm.Config{
			ProviderName: name,
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			Models:       pc.Models,
			MaxTokens:    pc.MaxTokens,
			Temperature:  pc.Temperature,
		}
		if pc.DisplayName != "" {
			cfg.ProviderName = pc.DisplayName
		}

		var (
			provider llm.Provider
			err      error
		)
		switch pc.Type {
		case "ollama", "":
			provider, err = llm.NewOllamaProvider(cfg)
		case "openai":
			provider, err = llm.NewOpenAIProvider(cfg)
		default:
			return nil, fmt.Errorf("unknown provider type %q for %q", pc.Type, name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %q: %w", name, err)
		}
		if err := provider.ValidateConfig(); err != nil {
			return nil, fmt.Errorf("invalid config for provider %q: %w", name, err)
		}

		registry.Register(provider)
		logger.Info("Registered provider %q (%s)", name, pc.Type)
	}

	if len(registry.Names()) == 0 {
		return nil, fmt.Errorf("no enabled providers in config")
	}

	return registry, nil
}

// resolveJudge picks the evaluation backend from the registry
func resolveJudge(registry *llm.Registry, config *utils.Config) (llm.Provider, error) {
	name := config.Evaluation.Provider
	if name == "" {
		name = registry.Names()[0]
	}
	judge, ok := registry.Provider(name)
	if !ok {
		return nil, fmt.Errorf("evaluation provider %q is not registered", name)
	}
	return judge, nil
}
