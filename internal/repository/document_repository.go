package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/timetable-sync/internal/models"
	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
)

var documentFieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// DocumentRepository is the remote document store backed by a PostgreSQL
// JSONB table.
type DocumentRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: time.Now}
}

type documentRow struct {
	ID         string    `db:"id"`
	Collection string    `db:"collection"`
	UserID     string    `db:"user_id"`
	Data       []byte    `db:"data"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// List returns the documents of collection matching every filter. The
// userId filter targets the owner column; other keys match top-level JSON
// fields of the document.
func (r *DocumentRepository) List(ctx context.Context, collection string, filter models.DocumentFilter) ([]models.Document, error) {
	var (
		conditions = []string{"collection = $1"}
		args       = []interface{}{collection}
	)

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !documentFieldPattern.MatchString(k) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid filter field %q", k))
		}
		args = append(args, filter[k])
		if k == "userId" {
			conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
		} else {
			conditions = append(conditions, fmt.Sprintf("data->>'%s' = $%d", k, len(args)))
		}
	}

	query := fmt.Sprintf(`SELECT id, collection, user_id, data, created_at, updated_at
FROM documents WHERE %s ORDER BY created_at, id`, strings.Join(conditions, " AND "))

	var rows []documentRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	docs := make([]models.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, models.Document{
			ID:         row.ID,
			Collection: row.Collection,
			UserID:     row.UserID,
			Data:       json.RawMessage(row.Data),
			CreatedAt:  row.CreatedAt,
			UpdatedAt:  row.UpdatedAt,
		})
	}
	return docs, nil
}

// Create inserts doc.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	now := r.now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	data := []byte(doc.Data)
	if len(data) == 0 {
		data = []byte("{}")
	}
	const query = `INSERT INTO documents (id, collection, user_id, data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query, doc.ID, doc.Collection, doc.UserID, data, doc.CreatedAt, doc.UpdatedAt); err != nil {
		return fmt.Errorf("create document %s: %w", doc.ID, err)
	}
	return nil
}

// Update replaces the data of an existing document.
func (r *DocumentRepository) Update(ctx context.Context, doc *models.Document) error {
	doc.UpdatedAt = r.now().UTC()
	const query = `UPDATE documents SET data = $1, updated_at = $2 WHERE id = $3 AND collection = $4`
	res, err := r.db.ExecContext(ctx, query, []byte(doc.Data), doc.UpdatedAt, doc.ID, doc.Collection)
	if err != nil {
		return fmt.Errorf("update document %s: %w", doc.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document %s: %w", doc.ID, err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	return nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (r *DocumentRepository) Delete(ctx context.Context, collection, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND collection = $2`, id, collection); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}
