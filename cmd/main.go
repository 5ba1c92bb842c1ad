package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kpforge/proposal-backend/internal/clients/gcp"
	"github.com/kpforge/proposal-backend/internal/clients/openai"
	"github.com/kpforge/proposal-backend/internal/clients/pinecone"
	"github.com/kpforge/proposal-backend/internal/config"
	"github.com/kpforge/proposal-backend/internal/convert"
	"github.com/kpforge/proposal-backend/internal/data/repos"
	"github.com/kpforge/proposal-backend/internal/db"
	httpserver "github.com/kpforge/proposal-backend/internal/http"
	httpH "github.com/kpforge/proposal-backend/internal/http/handlers"
	"github.com/kpforge/proposal-backend/internal/observability"
	"github.com/kpforge/proposal-backend/internal/platform/logger"
	"github.com/kpforge/proposal-backend/internal/proposal"
	"github.com/kpforge/proposal-backend/internal/temporalx"
	"github.com/kpforge/proposal-backend/internal/temporalx/proposalrun"
	"github.com/kpforge/proposal-backend/internal/temporalx/temporalworker"
	"github.com/kpforge/proposal-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Tracing (off unless OTEL_ENABLED)
	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "proposal-backend",
		Environment: utils.GetEnv("DEPLOY_ENV", "local", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
	})
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(ctx) }()
	}

	// Pipeline config
	pipeline, err := config.LoadPipeline(log)
	if err != nil {
		log.Error("Pipeline config invalid", "error", err)
		os.Exit(1)
	}

	// Postgres (best-effort: run history and budget persistence)
	var runRepo repos.ProposalRunRepo
	var budgetRepo repos.ProposalBudgetRepo
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Warn("Postgres init failed; run history disabled", "error", err)
	} else {
		if err := postgresService.AutoMigrateAll(); err != nil {
			log.Warn("Postgres auto migration failed", "error", err)
		}
		thePG := postgresService.GetDB()
		runRepo = repos.NewProposalRunRepo(thePG, log)
		budgetRepo = repos.NewProposalBudgetRepo(thePG, log)
	}

	// Clients
	log.Info("Setting up clients from main...")
	llm, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init LLM client", "error", err)
		os.Exit(1)
	}

	var store pinecone.VectorStore
	pcClient, err := pinecone.New(log, pinecone.Config{APIKey: os.Getenv("PINECONE_API_KEY")})
	if err != nil {
		log.Warn("Pinecone init failed; requirement refinement disabled", "error", err)
	} else {
		store, err = pinecone.NewVectorStore(log, pcClient, llm)
		if err != nil {
			log.Warn("Vector store init failed; requirement refinement disabled", "error", err)
		}
	}

	doc, err := gcp.NewDocument(log)
	if err != nil {
		log.Warn("Document AI not configured; conversion falls back to local paths", "error", err)
		doc = nil
	}
	converter, err := convert.NewConverter(log, doc, llm)
	if err != nil {
		log.Error("Could not init converter", "error", err)
		os.Exit(1)
	}

	// Pipeline components
	splitter, err := proposal.NewSplitter(pipeline.ChunkSize, pipeline.ChunkOverlap, pipeline.NewlineWindow)
	if err != nil {
		log.Error("Could not init splitter", "error", err)
		os.Exit(1)
	}
	extractor, err := proposal.NewExtractor(log, llm)
	if err != nil {
		log.Error("Could not init extractor", "error", err)
		os.Exit(1)
	}
	var refiner *proposal.Refiner
	if store != nil {
		refiner, err = proposal.NewRefiner(log, proposalrun.NewStoreSearcher(store), pipeline.RAGMinConfidence, pipeline.RAGTopK)
		if err != nil {
			log.Error("Could not init refiner", "error", err)
			os.Exit(1)
		}
	}
	analyzer, err := proposal.NewAnalyzer(log, llm, pipeline.RAGContextItems, pipeline.DefaultFeatureHours)
	if err != nil {
		log.Error("Could not init analyzer", "error", err)
		os.Exit(1)
	}
	estimator, err := proposal.NewEstimator(log, llm)
	if err != nil {
		log.Error("Could not init estimator", "error", err)
		os.Exit(1)
	}
	generator, err := proposal.NewGenerator(log, llm)
	if err != nil {
		log.Error("Could not init generator", "error", err)
		os.Exit(1)
	}

	// Temporal
	log.Info("Setting up Temporal from main...")
	tcfg := temporalx.LoadConfig()
	tc, err := temporalx.NewClient(log, tcfg)
	if err != nil {
		log.Error("Temporal client init failed", "error", err)
		os.Exit(1)
	}

	var proposalHandler *httpH.ProposalHandler
	if tc != nil {
		defer tc.Close()

		acts := &proposalrun.Activities{
			Log:       log,
			LLM:       llm,
			Converter: converter,
			Store:     store,
			Splitter:  splitter,
			Extractor: extractor,
			Refiner:   refiner,
			Analyzer:  analyzer,
			Estimator: estimator,
			Generator: generator,
			Runs:      runRepo,
			Budgets:   budgetRepo,
		}
		runner, err := temporalworker.NewRunner(log, tc, acts)
		if err != nil {
			log.Error("Temporal worker init failed", "error", err)
			os.Exit(1)
		}
		if err := runner.Start(ctx); err != nil {
			log.Error("Temporal worker start failed", "error", err)
			os.Exit(1)
		}

		proposalHandler, err = httpH.NewProposalHandler(log, tc, tcfg, pipeline, runRepo, budgetRepo)
		if err != nil {
			log.Error("Could not init proposal handler", "error", err)
			os.Exit(1)
		}
	} else {
		log.Warn("Temporal not configured; proposal API disabled")
	}

	// Router
	log.Info("Setting up router from main...")
	server := httpserver.NewServer(httpserver.RouterConfig{
		Log:             log,
		ProposalHandler: proposalHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := server.Run(":" + port); err != nil {
		log.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
