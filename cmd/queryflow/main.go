// queryflow runs the query pipeline against a JSON corpus file.
//
// Usage:
//
//	queryflow query --corpus corpus.json "compare Python and R"
//	queryflow query --config config.yaml --json "why did latency increase"
//	queryflow version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/queryflow"
	"github.com/BaSui01/queryflow/config"
	"github.com/BaSui01/queryflow/types"
)

// Build-time version information.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "query":
		runQuery(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (YAML)")
	corpusPath := fs.String("corpus", "", "Path to JSON corpus file")
	asJSON := fs.Bool("json", false, "Emit the full answer as JSON")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "query: missing query text")
		os.Exit(1)
	}
	query := strings.Join(fs.Args(), " ")

	// Environment overrides may live in a local .env file.
	_ = godotenv.Load()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	corpus, err := loadCorpus(*corpusPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load corpus: %v\n", err)
		os.Exit(1)
	}
	logger.Info("corpus loaded", zap.Int("records", len(corpus)))

	engine, err := queryflow.New(cfg, corpusRetrieval(corpus),
		queryflow.WithLogger(logger),
		queryflow.WithMetrics("queryflow"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create engine: %v\n", err)
		os.Exit(1)
	}

	answer, err := engine.Query(context.Background(), query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		data, err := json.MarshalIndent(answer, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode answer: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
		return
	}

	fmt.Println(answer.Answer)
	fmt.Printf("\nConfidence: %.1f%%\n", answer.Confidence*100)
	if len(answer.Sources) > 0 {
		fmt.Printf("Sources: %s\n", strings.Join(answer.Sources, "; "))
	}
}

// loadCorpus reads a JSON array of result records. An empty path yields
// an empty corpus, which still exercises the insufficient-results path.
func loadCorpus(path string) ([]types.ResultRecord, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var corpus []types.ResultRecord
	if err := json.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return corpus, nil
}

// corpusRetrieval matches records whose text shares a word of four or
// more characters with the sub-query.
func corpusRetrieval(corpus []types.ResultRecord) types.RetrievalFunc {
	return func(ctx context.Context, sq types.SubQuery) ([]types.ResultRecord, error) {
		terms := make(map[string]bool)
		for _, word := range strings.Fields(strings.ToLower(sq.SubQueryText)) {
			if len(word) >= 4 {
				terms[word] = true
			}
		}
		if len(terms) == 0 {
			return nil, nil
		}

		var matches []types.ResultRecord
		for _, record := range corpus {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for _, word := range strings.Fields(strings.ToLower(record.Text())) {
				if terms[word] {
					matches = append(matches, record)
					break
				}
			}
		}
		return matches, nil
	}
}

func printVersion() {
	fmt.Printf("queryflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`queryflow - knowledge base query pipeline

Usage:
  queryflow <command> [options]

Commands:
  query     Answer a query against a corpus
  version   Show version information
  help      Show this help message

Options for 'query':
  --config <path>   Path to configuration file (YAML)
  --corpus <path>   Path to JSON corpus file
  --json            Emit the full answer as JSON

Examples:
  queryflow query --corpus corpus.json "compare Python and R for data science"
  queryflow query --config queryflow.yaml --json "why did latency increase"
  queryflow version`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
