package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/logger"
	"github.com/teranos/croplink/metrics"
)

// Store is the SQLite document store.
type Store struct {
	db      *sql.DB
	now     func() time.Time
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

// NewStore creates a store. m and log may be nil.
func NewStore(db *sql.DB, m *metrics.Metrics, log *zap.SugaredLogger) *Store {
	return NewStoreWithClock(db, m, log, time.Now)
}

// NewStoreWithClock creates a store with an injectable clock (for testing)
func NewStoreWithClock(db *sql.DB, m *metrics.Metrics, log *zap.SugaredLogger, now func() time.Time) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{db: db, now: now, metrics: m, log: logger.AddDBSymbol(log.Named("docstore"))}
}

// Upsert stores doc unless a document with the same source and content
// hash exists, and records the delivery either way. It returns the stored
// document and whether it already existed. Repeating an upsert for the same
// ingestion returns the document recorded the first time.
func (s *Store) Upsert(ctx context.Context, doc *Document) (*Document, bool, error) {
	fields, err := json.Marshal(doc.ExtractedFields)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to encode extracted fields")
	}
	if doc.ExtractedFields == nil {
		fields = []byte("{}")
	}

	now := s.now().UTC()
	id := uuid.NewString()
	status := doc.Status
	if status == "" {
		status = StatusActive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	// Write first so the transaction takes the write lock up front
	res, err := tx.ExecContext(ctx, `
		INSERT INTO documents (
			id, source_id, tenant_id, content_hash, farmer_id, factory_id,
			grading_model_id, region_id, extracted_fields, ingestion_id,
			raw_location, index_name, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id, content_hash) DO NOTHING`,
		id, doc.SourceID, doc.TenantID, doc.ContentHash,
		nullable(doc.FarmerID), nullable(doc.FactoryID),
		nullable(doc.GradingModelID), nullable(doc.RegionID),
		string(fields), doc.IngestionID, doc.RawLocation, doc.IndexName,
		status, now, now)
	if err != nil {
		err = errors.WithDetail(err, fmt.Sprintf("Source ID: %s, ingestion: %s", doc.SourceID, doc.IngestionID))
		return nil, false, errors.Wrap(err, "failed to insert document")
	}

	var (
		priorDocID string
		priorDup   bool
	)
	err = tx.QueryRowContext(ctx,
		`SELECT document_id, duplicate FROM document_deliveries WHERE ingestion_id = ?`,
		doc.IngestionID).Scan(&priorDocID, &priorDup)
	switch {
	case err == nil:
		// Retried ingestion: the first outcome stands
		if n, _ := res.RowsAffected(); n > 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
				return nil, false, errors.Wrap(err, "failed to discard superseded document")
			}
		}
		stored, err := getDocument(ctx, tx, "id = ?", priorDocID)
		if err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, errors.Wrap(err, "failed to commit transaction")
		}
		return stored, priorDup, nil
	case err != sql.ErrNoRows:
		return nil, false, errors.Wrap(err, "failed to check delivery")
	}

	stored, err := getDocument(ctx, tx, "source_id = ? AND content_hash = ?", doc.SourceID, doc.ContentHash)
	if err != nil {
		return nil, false, err
	}
	duplicate := stored.ID != id

	_, err = tx.ExecContext(ctx,
		`INSERT INTO document_deliveries (ingestion_id, document_id, duplicate, delivered_at) VALUES (?, ?, ?, ?)`,
		doc.IngestionID, stored.ID, duplicate, now)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to record delivery")
	}

	if err := tx.Commit(); err != nil {
		return nil, false, errors.Wrap(err, "failed to commit transaction")
	}

	s.metrics.RecordDocument(doc.SourceID, duplicate)
	if duplicate {
		s.log.Infow("Duplicate content, delivery recorded",
			logger.FieldSourceID, doc.SourceID,
			logger.FieldDocumentID, stored.ID,
			logger.FieldJobID, doc.IngestionID)
	}
	return stored, duplicate, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDocument(ctx context.Context, q querier, where string, args ...any) (*Document, error) {
	row := q.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM documents WHERE "+where, args...)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "document")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load document")
	}
	return doc, nil
}

// Get loads a document by id.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	doc, err := getDocument(ctx, s.db, "id = ?", id)
	if err != nil {
		return nil, errors.WithDetail(err, "Document ID: "+id)
	}
	return doc, nil
}

// GetByHash loads the document of a source with the given content hash.
func (s *Store) GetByHash(ctx context.Context, sourceID, hash string) (*Document, error) {
	return getDocument(ctx, s.db, "source_id = ? AND content_hash = ?", sourceID, hash)
}

// List returns documents newest first, optionally for one source.
func (s *Store) List(ctx context.Context, sourceID string, offset, limit int) ([]*Document, error) {
	query := "SELECT " + selectColumns + " FROM documents"
	var args []any
	if sourceID != "" {
		query += " WHERE source_id = ?"
		args = append(args, sourceID)
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan document")
		}
		docs = append(docs, doc)
	}
	return docs, errors.Wrap(rows.Err(), "error iterating documents")
}

// Count returns how many documents exist, optionally for one source.
func (s *Store) Count(ctx context.Context, sourceID string) (int, error) {
	query := "SELECT COUNT(*) FROM documents"
	var args []any
	if sourceID != "" {
		query += " WHERE source_id = ?"
		args = append(args, sourceID)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count documents")
	}
	return n, nil
}

// Deliveries returns every delivery recorded for a document, oldest first.
func (s *Store) Deliveries(ctx context.Context, documentID string) ([]Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ingestion_id, document_id, duplicate, delivered_at
		FROM document_deliveries WHERE document_id = ?
		ORDER BY delivered_at, ingestion_id`, documentID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list deliveries")
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.IngestionID, &d.DocumentID, &d.Duplicate, &d.DeliveredAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan delivery")
		}
		out = append(out, d)
	}
	return out, errors.Wrap(rows.Err(), "error iterating deliveries")
}

// SetStatus changes the soft status of a document.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	if status != StatusActive && status != StatusArchived {
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown document status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`, status, s.now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "failed to update document status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "document %s", id)
	}
	return nil
}
