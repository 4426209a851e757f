package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fabfab/iterative-rag/api"
	"github.com/fabfab/iterative-rag/config"
	"github.com/fabfab/iterative-rag/ingestion"
)

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("load .env: %v", err)
	}

	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	switch os.Args[1] {
	case "answer":
		answerCmd(cfg, logger, os.Args[2:])
	case "eval":
		evalCmd(cfg, logger, os.Args[2:])
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "clear":
		clearCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func answerCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("answer", flag.ExitOnError)
	question := flags.String("question", "", "question to answer")
	docPath := flags.String("doc", "", "path to the context document (json, jsonl, markdown, pdf or csv)")
	model := flags.String("model", cfg.LLM.Model, "generation model")
	retrieveOnly := flags.Bool("retrieve-only", false, "print the top passages for the question and exit")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse answer flags: %v", err)
	}

	if strings.TrimSpace(*docPath) == "" {
		logger.Fatal("--doc is required")
	}

	if strings.TrimSpace(*question) == "" {
		fmt.Print("Enter your question: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			*question = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Fatalf("read question: %v", err)
		}
	}

	doc, err := ingestion.NewLoader(logger).LoadDocument(*docPath)
	if err != nil {
		logger.Fatalf("load document: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer a.Close()

	if *retrieveOnly {
		passages, err := a.ranker.Rank(ctx, *question, doc, cfg.Loop.TopK)
		if err != nil {
			logger.Fatalf("retrieve: %v", err)
		}
		for i, passage := range passages {
			fmt.Printf("%d. [%.4f] %s\n", i+1, passage.Score, passage.Text)
		}
		return
	}

	result := a.service.Run(ctx, *question, doc, *model)
	fmt.Println(result.Answer)
	if len(result.Trace) > 0 {
		fmt.Println()
		fmt.Println("Rounds:")
		for _, round := range result.Trace {
			fmt.Printf("%d. intent: %s\n", round.Iteration, round.Intent)
			fmt.Printf("   query: %s\n", round.Query)
			fmt.Printf("   passages: %d, sufficient: %t\n", len(round.Passages), round.Sufficient)
		}
	}
	if result.Err != nil {
		os.Exit(1)
	}
}

func evalCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("eval", flag.ExitOnError)
	datasetPath := flags.String("dataset", "", "path to a question answering dataset")
	idx := flags.Int("idx", 0, "index of the example to evaluate")
	model := flags.String("model", cfg.LLM.Model, "generation model")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse eval flags: %v", err)
	}

	if strings.TrimSpace(*datasetPath) == "" {
		logger.Fatal("--dataset is required")
	}

	dataset, err := ingestion.NewLoader(logger).LoadDataset(*datasetPath)
	if err != nil {
		logger.Fatalf("load dataset: %v", err)
	}

	if *idx < 0 || *idx >= len(dataset) {
		fmt.Printf("Error: Index %d is out of range. The dataset contains %d samples.\n", *idx, len(dataset))
		os.Exit(1)
	}
	example := dataset[*idx]

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer a.Close()

	answer := a.service.GenerateAnswer(ctx, example.Question, example, *model)
	normalized := strings.ToLower(strings.TrimSpace(answer))

	fmt.Println("\n===== Result =====")
	fmt.Printf("Question: %s\n", example.Question)
	fmt.Printf("Ground Truth: %s\n", example.Answer)
	fmt.Printf("Model Answer: %s\n", normalized)
	fmt.Printf("Contains Ground Truth: %t\n", containsGroundTruth(normalized, example.Answer))
}

func containsGroundTruth(answer, truth string) bool {
	truth = strings.ToLower(strings.TrimSpace(truth))
	return truth != "" && strings.Contains(answer, truth)
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.ListenAddr, "listen address")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer a.Close()

	srv, err := api.New(api.Options{
		Answerer: a.service,
		Clearers: a.clearers,
		Runs:     a.runs,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatalf("api setup: %v", err)
	}

	if err := api.ListenAndServe(ctx, *addr, srv, logger); err != nil {
		logger.Fatalf("serve: %v", err)
	}
}

func clearCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear flags: %v", err)
	}

	if !*confirmed {
		fmt.Printf("This will permanently delete cached embeddings (%s) and recorded runs (%s). Continue? [y/N]: ", cfg.Cache.Backend, cfg.Trace.Backend)
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logger.Fatalf("read confirmation: %v", err)
			}
			logger.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer a.Close()

	if len(a.clearers) == 0 {
		logger.Println("no persistent cache or trace backend configured, nothing to clear")
		return
	}
	for name, clearer := range a.clearers {
		if err := clearer.Clear(ctx); err != nil {
			logger.Fatalf("clear %s: %v", name, err)
		}
		logger.Printf("cleared %s", name)
	}
	logger.Println("RAG data removed")
}

func printUsage() {
	fmt.Println("Usage: iterative-rag <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  answer   Answer a question over one document (--question, --doc, --model, --retrieve-only)")
	fmt.Println("  eval     Run one dataset example and compare with its ground truth (--dataset, --idx, --model)")
	fmt.Println("  serve    Serve the HTTP API (--addr)")
	fmt.Println("  clear    Remove cached embeddings and recorded runs")
	fmt.Println("Environment: CONFIG_FILE points at an optional YAML overlay; .env is loaded when present.")
}
