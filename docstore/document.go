// Package docstore persists linked documents. Documents are unique per
// (source_id, content_hash); every delivery resolving to a document is
// recorded, duplicates included.
package docstore

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/teranos/croplink/errors"
)

// Document status values. Status is the only field changed after creation.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Document is a validated, linked record.
type Document struct {
	ID              string         `json:"id"`
	SourceID        string         `json:"source_id"`
	TenantID        string         `json:"tenant_id,omitempty"`
	ContentHash     string         `json:"content_hash"`
	FarmerID        string         `json:"farmer_id,omitempty"`
	FactoryID       string         `json:"factory_id,omitempty"`
	GradingModelID  string         `json:"grading_model_id,omitempty"`
	RegionID        string         `json:"region_id,omitempty"`
	ExtractedFields map[string]any `json:"extracted_fields"`
	IngestionID     string         `json:"ingestion_id"`
	RawLocation     string         `json:"raw_location,omitempty"`
	IndexName       string         `json:"index_name,omitempty"`
	Status          string         `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Delivery links an ingestion to the document it resolved to.
type Delivery struct {
	IngestionID string    `json:"ingestion_id"`
	DocumentID  string    `json:"document_id"`
	Duplicate   bool      `json:"duplicate"`
	DeliveredAt time.Time `json:"delivered_at"`
}

const selectColumns = `id, source_id, tenant_id, content_hash, farmer_id, factory_id,
	grading_model_id, region_id, extracted_fields, ingestion_id, raw_location,
	index_name, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		d                                   Document
		farmer, factory, gradingModel, rgn sql.NullString
		fields                              string
	)
	err := row.Scan(&d.ID, &d.SourceID, &d.TenantID, &d.ContentHash,
		&farmer, &factory, &gradingModel, &rgn, &fields, &d.IngestionID,
		&d.RawLocation, &d.IndexName, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.FarmerID = farmer.String
	d.FactoryID = factory.String
	d.GradingModelID = gradingModel.String
	d.RegionID = rgn.String

	dec := json.NewDecoder(strings.NewReader(fields))
	dec.UseNumber()
	if err := dec.Decode(&d.ExtractedFields); err != nil {
		return nil, errors.Wrapf(err, "document %s has corrupt extracted_fields", d.ID)
	}
	return &d, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
