package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/color2333/vibingu/internal/logger"
	"github.com/color2333/vibingu/internal/types"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// reconciliationThreshold is the coverage ratio below which a full rescan
// runs at startup (spec.md §4.9).
const reconciliationThreshold = 0.95

// reconcileConcurrency bounds the number of in-flight embed+upsert calls
// during a rescan, so a large backlog doesn't open thousands of concurrent
// upstream embedding requests at once.
const reconcileConcurrency = 8

// Embedder is the narrow gateway slice this package depends on.
type Embedder interface {
	Embed(ctx context.Context, text, taskTag, recordID string) ([]float32, error)
}

// RecordSource is the SQL-store slice needed for reconciliation counts and
// the full-rescan iteration.
type RecordSource interface {
	CountNonDeleted(ctx context.Context) (int64, error)
	IterateNonDeleted(ctx context.Context, batchSize int, fn func(*types.LifeRecord) error) error
}

// Match is one semantic-retrieval hit (spec.md §4.10's "[semantic i]" lines).
type Match struct {
	RecordID string
	Document string
	Category string
	Date     string
	Distance float32
}

// Store is the pgvector-backed VectorIndexer. Index and Remove log their own
// errors and also return them; callers treat them as non-fatal, since the SQL
// record remains authoritative either way.
type Store struct {
	db       *gorm.DB
	embedder Embedder
}

// New connects the vector collection table, auto-migrating it independently
// of the SQL store's own migration — spec.md frames the VectorCollection as
// a logically separate, eventually-consistent external store even though it
// shares the same Postgres instance via the pgvector extension here.
func New(db *gorm.DB, embedder Embedder) (*Store, error) {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("vectorstore: enabling pgvector extension: %w", err)
	}
	if err := db.AutoMigrate(&lifeRecordVectorRow{}); err != nil {
		return nil, fmt.Errorf("vectorstore: automigrate: %w", err)
	}
	return &Store{db: db, embedder: embedder}, nil
}

// Index renders the canonical document for rec, embeds it, and upserts the
// vector-collection row keyed by record_id (spec.md §4.9).
func (s *Store) Index(ctx context.Context, rec *types.LifeRecord) error {
	doc := BuildDocument(rec)
	if doc == "" {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, doc, "vector_index", rec.ID)
	if err != nil {
		logger.Warn(ctx, "vectorstore: embedding failed", "record_id", rec.ID, "err", err.Error())
		return err
	}

	row := lifeRecordVectorRow{
		RecordID:      rec.ID,
		Document:      doc,
		Embedding:     pgvector.NewVector(vec),
		Category:      string(rec.Category),
		SubCategories: strings.Join(subCategoriesOf(rec), ","),
		Date:          rec.SubmittedAt.Format("2006-01-02"),
		Hour:          rec.SubmittedAt.Hour(),
		Tags:          strings.Join(capTags(rec.Tags, 10), ","),
		UpdatedAt:     time.Now(),
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		logger.Warn(ctx, "vectorstore: upsert failed", "record_id", rec.ID, "err", err.Error())
		return err
	}
	return nil
}

// Remove deletes the vector-collection entry for recordID, e.g. on soft
// delete of the underlying record.
func (s *Store) Remove(ctx context.Context, recordID string) error {
	if err := s.db.WithContext(ctx).Delete(&lifeRecordVectorRow{}, "record_id = ?", recordID).Error; err != nil {
		logger.Warn(ctx, "vectorstore: remove failed", "record_id", recordID, "err", err.Error())
		return err
	}
	return nil
}

// Search returns the top-n nearest neighbours of query by cosine distance,
// feeding the chat context assembler's semantic-retrieval section (C11).
func (s *Store) Search(ctx context.Context, query string, n int, category *types.Category) ([]Match, error) {
	vec, err := s.embedder.Embed(ctx, query, "semantic_search", "")
	if err != nil {
		return nil, fmt.Errorf("vectorstore: embedding query: %w", err)
	}
	q := s.db.WithContext(ctx).Model(&lifeRecordVectorRow{})
	if category != nil {
		q = q.Where("category = ?", string(*category))
	}
	var rows []struct {
		lifeRecordVectorRow
		Distance float32 `gorm:"column:distance"`
	}
	err = q.Select("*, embedding <-> ? AS distance", pgvector.NewVector(vec)).
		Order("distance ASC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	matches := make([]Match, 0, len(rows))
	for _, r := range rows {
		matches = append(matches, Match{
			RecordID: r.RecordID,
			Document: r.Document,
			Category: r.Category,
			Date:     r.Date,
			Distance: r.Distance,
		})
	}
	return matches, nil
}

// Reconcile runs the startup check of spec.md §4.9: if vector-collection
// coverage of non-deleted records drops below 95%, every non-deleted record
// is re-upserted in the background. Its own failure never blocks startup.
func (s *Store) Reconcile(ctx context.Context, records RecordSource) {
	nonDeleted, err := records.CountNonDeleted(ctx)
	if err != nil {
		logger.Warn(ctx, "vectorstore: reconciliation count failed", "err", err.Error())
		return
	}
	if nonDeleted == 0 {
		return
	}

	var indexed int64
	if err := s.db.WithContext(ctx).Model(&lifeRecordVectorRow{}).Count(&indexed).Error; err != nil {
		logger.Warn(ctx, "vectorstore: reconciliation coverage count failed", "err", err.Error())
		return
	}

	coverage := float64(indexed) / float64(nonDeleted)
	if coverage >= reconciliationThreshold {
		return
	}

	logger.Info(ctx, "vectorstore: coverage below threshold, rescanning", "coverage", coverage)
	var rescanned int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)
	err = records.IterateNonDeleted(ctx, 100, func(rec *types.LifeRecord) error {
		rec := rec
		g.Go(func() error {
			if indexErr := s.Index(gctx, rec); indexErr != nil {
				logger.Warn(gctx, "vectorstore: reconciliation upsert failed", "record_id", rec.ID, "err", indexErr.Error())
			}
			atomic.AddInt64(&rescanned, 1)
			return nil
		})
		return nil
	})
	if err != nil {
		logger.Warn(ctx, "vectorstore: reconciliation scan failed", "err", err.Error())
		return
	}
	// Index's own errors are logged and swallowed (never returned to g.Go),
	// so Wait only ever reports a cancelled context; it still blocks until
	// every in-flight embed+upsert from this rescan has finished.
	if waitErr := g.Wait(); waitErr != nil {
		logger.Warn(ctx, "vectorstore: reconciliation fan-out interrupted", "err", waitErr.Error())
	}
	logger.Info(ctx, "vectorstore: reconciliation complete", "rescanned", atomic.LoadInt64(&rescanned))
}

// subCategoriesOf reads meta_data.sub_categories, tolerating both the
// []string shape set during ingestion and the []interface{} shape produced
// by a JSON round trip through storage.
func subCategoriesOf(rec *types.LifeRecord) []string {
	raw, ok := rec.MetaData["sub_categories"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func capTags(tags []string, n int) []string {
	if len(tags) <= n {
		return tags
	}
	return tags[:n]
}
