package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/maltedev/amazon-search-scraper/internal/models"
)

const DefaultSuffix = "products"

var ErrNoRecords = errors.New("no records to write")

// Sink persists the records of a finished search.
type Sink interface {
	Save(ctx context.Context, run models.SearchRun) error
}

// CSVSink writes one {keyword}_{suffix}.csv file per search.
type CSVSink struct {
	dir    string
	suffix string
}

func NewCSVSink(dir, suffix string) *CSVSink {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return &CSVSink{dir: dir, suffix: suffix}
}

// Path returns the file a search for keyword is written to.
func (s *CSVSink) Path(keyword string) string {
	return filepath.Join(s.dir, FileName(keyword, s.suffix))
}

// FileName keeps the keyword as typed but strips path separators so the
// file always lands in the output directory.
func FileName(keyword, suffix string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(keyword))
	return fmt.Sprintf("%s_%s.csv", name, suffix)
}

// Save writes nothing and returns ErrNoRecords when records is empty.
func (s *CSVSink) Save(_ context.Context, run models.SearchRun) error {
	if len(run.Records) == 0 {
		return ErrNoRecords
	}
	return WriteCSV(s.Path(run.Query.Keyword), run.Records)
}

func WriteCSV(path string, records []models.ListingRecord) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	// Write to temp file first for atomicity
	tmpFile := path + ".tmp"
	file, err := os.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := writeRows(file, records); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to close file: %w", err)
	}

	return os.Rename(tmpFile, path)
}

func writeRows(file *os.File, records []models.ListingRecord) error {
	writer := csv.NewWriter(file)

	if err := writer.Write(models.CSVHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		if err := writer.Write(r.Row()); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("csv write error: %w", err)
	}
	return nil
}

// MultiSink saves to every sink in order and stops at the first failure.
type MultiSink []Sink

func (m MultiSink) Save(ctx context.Context, run models.SearchRun) error {
	for _, s := range m {
		if err := s.Save(ctx, run); err != nil {
			return err
		}
	}
	return nil
}
