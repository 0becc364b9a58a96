package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/amazon-search-scraper/internal/models"
)

var listingColumns = []string{"job_id", "position", "title", "price", "rating", "reviews", "description"}

// ListingRepository stores the records collected by a search job.
type ListingRepository struct {
	db *DB
}

func NewListingRepository(db *DB) *ListingRepository {
	return &ListingRepository{db: db}
}

// InsertWithTx bulk-copies records in result order. Position is 1-based.
func (r *ListingRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, records []models.ListingRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(records))
	for i, rec := range records {
		rows = append(rows, []any{
			jobID, i + 1, rec.Title, rec.Price, rec.Rating, rec.ReviewCount, rec.Description,
		})
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"search_listings"}, listingColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("failed to copy listings: %w", err)
	}

	return n, nil
}

// ListByJob returns a page of a job's records in their original order.
func (r *ListingRepository) ListByJob(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]models.ListingRecord, error) {
	query := `
		SELECT title, price, rating, reviews, description
		FROM search_listings
		WHERE job_id = $1
		ORDER BY position
		LIMIT $2 OFFSET $3`

	rows, err := r.db.pool.Query(ctx, query, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ListingRecord, error) {
		var rec models.ListingRecord
		err := row.Scan(&rec.Title, &rec.Price, &rec.Rating, &rec.ReviewCount, &rec.Description)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan listings: %w", err)
	}

	return records, nil
}

func (r *ListingRepository) CountByJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	var count int
	err := r.db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM search_listings WHERE job_id = $1", jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return count, nil
}
