package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kb-rag/internal/chromemdb"
	"kb-rag/internal/config"
	"kb-rag/internal/db"
	"kb-rag/internal/embedding"
	"kb-rag/internal/helper"
	"kb-rag/internal/indexer"
	"kb-rag/internal/llmservice"
	"kb-rag/internal/models"
	"kb-rag/internal/parser"
	"kb-rag/internal/rag"
	"kb-rag/internal/retriever"
	"kb-rag/internal/retrypolicy"
	"kb-rag/internal/store"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	filePath := flag.String("file", "", "Path to a document file to ingest")
	query := flag.String("query", "", "Question to answer from the knowledge base")
	topK := flag.Int("k", 0, "Number of chunks to retrieve (0 = config default)")
	reindex := flag.Bool("reindex", false, "Drop the document's existing chunks before ingesting")
	dryRun := flag.Bool("dry-run", false, "Parse and chunk only, do not embed or store")
	configPath := flag.String("config", configFilePath, "Path to the config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found")
	}

	if *filePath != "" && *query != "" {
		log.Fatal().Msg("Please provide either a document file using the -file flag or a query using the -query flag, but not both")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	log.Debug().Interface("rag", cfg.RAG).Str("store", cfg.Store).Msg("Loaded config")

	switch {
	case *filePath != "":
		ingestFile(context.Background(), cfg, *filePath, *reindex, *dryRun)
	case *query != "":
		answerQuery(context.Background(), cfg, *query, *topK)
	default:
		log.Fatal().Msg("Please provide either a document file using the -file flag or a query using the -query flag")
	}
}

func openStore(cfg *config.Config) (store.VectorStore, error) {
	switch cfg.Store {
	case "postgres":
		dbClient, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		bunDB := db.NewDB(dbClient, cfg.Database.Debug)
		if err := db.InitDB(context.Background(), bunDB); err != nil {
			return nil, err
		}
		return db.NewStore(bunDB), nil
	default:
		if !cfg.Chromem.InMemory {
			if err := helper.CreateFolder(cfg.Chromem.Path); err != nil {
				return nil, err
			}
		}
		return chromemdb.New(&cfg.Chromem)
	}
}

func ingestFile(ctx context.Context, cfg *config.Config, filePath string, reindex, dryRun bool) {
	jobID, _ := helper.GenerateUUID()
	logger := log.With().Str("job_id", jobID).Logger()

	pages, err := parser.ExtractPages(filePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Error parsing document")
	}
	logger.Info().Int("pages", len(pages)).Msg("Extracted pages")

	if dryRun {
		helper.PrettyPrint(pages)
		return
	}

	vs, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Error opening vector store")
	}
	defer vs.Close()

	client, err := embedding.NewClient(&cfg.EmbedLLM)
	if err != nil {
		logger.Fatal().Err(err).Msg("Error initializing embedding client")
	}
	embedder := embedding.NewEmbedder(client, &cfg.EmbedLLM, retrypolicy.Default(cfg.RAG.MaxRetries))
	ix := indexer.New(embedder, vs, cfg.RAG)

	var report *indexer.Report
	if reindex && len(pages) > 0 {
		report, err = ix.Reindex(ctx, pages[0].DocumentID, pages)
	} else {
		report, err = ix.IngestPages(ctx, pages)
	}
	if report != nil {
		helper.PrettyPrint(report)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("Error ingesting document")
	}
	logger.Info().Int("written", report.Written).Msg("Ingestion complete")
}

func answerQuery(ctx context.Context, cfg *config.Config, query string, k int) {
	vs, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening vector store")
	}
	defer vs.Close()

	client, err := embedding.NewClient(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedding client")
	}
	policy := retrypolicy.Default(cfg.RAG.MaxRetries)
	embedder := embedding.NewEmbedder(client, &cfg.EmbedLLM, policy)

	generator, err := llmservice.NewClient(&cfg.InferenceLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing generation client")
	}

	pipeline := rag.New(retriever.New(embedder, vs), generator, cfg.RAG, policy)
	answer, err := pipeline.Query(ctx, query, k)
	if err != nil {
		log.Fatal().Err(err).Msg("Error answering query")
	}

	printAnswer(query, answer)
}

func printAnswer(query string, answer *models.Answer) {
	color.New(color.FgYellow, color.Bold).Println("Query")
	fmt.Printf("%s\n\n", query)

	color.New(color.FgCyan, color.Bold).Println("Answer")
	fmt.Printf("%s\n\n", answer.Text)

	color.New(color.FgGreen, color.Bold).Println("Sources")
	if len(answer.Sources) == 0 {
		fmt.Println("(none)")
		return
	}
	for _, src := range answer.Sources {
		fmt.Printf("- %s, page %d (score %.3f)\n", src.DocumentName, src.PageNumber, src.Score)
	}
}
