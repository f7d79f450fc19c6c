// Package suppression imports bulk suppression lists. Provider dumps run to
// millions of addresses, so the importer streams line by line and writes in
// batches instead of loading the file into memory.
package suppression

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/lib/pq"
)

const importBatchSize = 5000

// ObjectStore fetches list files by key.
type ObjectStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	PutJSON(ctx context.Context, key string, data interface{}) error
}

// ImportResult summarizes one import run.
type ImportResult struct {
	Key        string    `json:"key"`
	Imported   int64     `json:"imported"`
	Invalid    int64     `json:"invalid"`
	DurationMs int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// Importer streams suppression files from an object store into the
// suppressions table.
type Importer struct {
	db        *sql.DB
	store     ObjectStore
	batchSize int
}

// NewImporter creates an importer reading from the given store.
func NewImporter(db *sql.DB, store ObjectStore) *Importer {
	return &Importer{db: db, store: store, batchSize: importBatchSize}
}

// SetBatchSize overrides the rows-per-insert batch size.
func (im *Importer) SetBatchSize(n int) {
	if n > 0 {
		im.batchSize = n
	}
}

// Import reads the object at key, one email address per line, and upserts
// every valid address as an active suppression. Already-suppressed addresses
// are reactivated. A summary report is written back next to the source file.
func (im *Importer) Import(ctx context.Context, key, reason string) (*ImportResult, error) {
	body, err := im.store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	start := time.Now()
	result := &ImportResult{Key: key}
	source := "import:" + key

	batch := make([]string, 0, im.batchSize)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		email := strings.TrimSpace(scanner.Text())
		if email == "" || strings.HasPrefix(email, "#") {
			continue
		}
		if !strings.Contains(email, "@") || strings.ContainsAny(email, " ,;") {
			result.Invalid++
			continue
		}

		batch = append(batch, email)
		if len(batch) >= im.batchSize {
			if err := im.flush(ctx, batch, reason, source, result); err != nil {
				return nil, err
			}
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	if len(batch) > 0 {
		if err := im.flush(ctx, batch, reason, source, result); err != nil {
			return nil, err
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	result.FinishedAt = time.Now().UTC()

	reportKey := key + ".report.json"
	if err := im.store.PutJSON(ctx, reportKey, result); err != nil {
		log.Printf("[SuppressionImport] Warning: failed to write report %s: %v", reportKey, err)
	}

	log.Printf("[SuppressionImport] %s: %d imported, %d invalid in %dms",
		key, result.Imported, result.Invalid, result.DurationMs)
	return result, nil
}

func (im *Importer) flush(ctx context.Context, emails []string, reason, source string, result *ImportResult) error {
	// Provider dumps repeat addresses with varying case. ON CONFLICT DO
	// UPDATE aborts if one statement touches the same row twice, so the
	// batch is deduped case-insensitively first.
	seen := make(map[string]struct{}, len(emails))
	unique := make([]string, 0, len(emails))
	for _, e := range emails {
		k := strings.ToLower(e)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, k)
	}

	res, err := im.db.ExecContext(ctx, `
		INSERT INTO suppressions (id, email, reason, source, active, created_at)
		SELECT gen_random_uuid(), e, $2, $3, true, NOW()
		FROM unnest($1::text[]) AS e
		ON CONFLICT (email) DO UPDATE SET active = true, reason = EXCLUDED.reason, updated_at = NOW()
	`, pq.Array(unique), reason, source)
	if err != nil {
		return fmt.Errorf("insert suppression batch: %w", err)
	}
	n, _ := res.RowsAffected()
	result.Imported += n
	return nil
}
