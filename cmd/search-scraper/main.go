package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/amazon-search-scraper/internal/config"
	"github.com/maltedev/amazon-search-scraper/internal/crawler"
	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/events"
	"github.com/maltedev/amazon-search-scraper/internal/jobs"
	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/maltedev/amazon-search-scraper/internal/scraper"
	"github.com/maltedev/amazon-search-scraper/internal/storage"
	"github.com/maltedev/amazon-search-scraper/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var (
		keyword   = flag.String("keyword", "", "Product keyword to search for (prompted when empty)")
		maxItems  = flag.Int("max", cfg.Scraper.DefaultTarget, "Maximum number of listings to collect")
		outputDir = flag.String("output", cfg.Output.Dir, "Directory for the CSV file")
		suffix    = flag.String("suffix", cfg.Output.Suffix, "File name suffix, written as {keyword}_{suffix}.csv")
		persist   = flag.Bool("persist", false, "Also store the search in Postgres")
	)
	flag.Parse()

	// Logs go to stderr so they do not interleave with the prompt.
	logger := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	if *keyword == "" {
		*keyword, err = promptKeyword(os.Stdin, os.Stdout)
		if err != nil {
			logger.Error("Failed to read keyword", "error", err)
			os.Exit(1)
		}
	}

	query, err := models.NewSearchQuery(*keyword, *maxItems)
	if err != nil {
		fmt.Println(err)
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, keeping partial results")
		cancel()
	}()

	var sinks storage.MultiSink

	if *persist {
		archive, closeDB, err := openArchive(ctx, cfg, logger)
		if err != nil {
			logger.Error("Failed to open database", "error", err)
			os.Exit(1)
		}
		defer closeDB()
		sinks = append(sinks, archive)
	}

	service := scraper.NewService(cfg.ScraperOptions(), logger)

	logger.Info("Starting search", "keyword", query.Keyword, "max", query.TargetCount)
	res := service.Run(ctx, query, func(e crawler.PageEvent) {
		logger.Info("Page scraped", "page", e.Page, "found", e.Found, "total", e.Total)
	})

	csvSink := storage.NewCSVSink(*outputDir, *suffix)
	if !res.Empty() {
		sinks = append(storage.MultiSink{csvSink}, sinks...)
	}

	// Results are saved even when the search was interrupted.
	if err := sinks.Save(context.WithoutCancel(ctx), res.Run()); err != nil {
		logger.Error("Failed to save results", "error", err)
		os.Exit(1)
	}

	if res.Empty() {
		fmt.Println("No data retrieved. Check your internet connection and try again.")
		return
	}

	fmt.Printf("Data saved to %s (%d listings, reason: %s)\n", csvSink.Path(query.Keyword), len(res.Records), res.Reason)
}

func promptKeyword(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter the product keyword to search on Amazon: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// openArchive wires the same transactional recorder the API server uses.
func openArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*jobs.Archive, func(), error) {
	db, err := database.New(ctx, cfg.Database.Database())
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	publisher := events.NewPublisher(database.NewOutboxRepository(db), cfg.Redis.Stream, logger)
	recorder := jobs.NewTxRecorder(db, publisher, logger)

	return jobs.NewArchive(database.NewJobRepository(db), recorder), db.Close, nil
}
