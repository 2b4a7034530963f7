package models

import (
	"encoding/json"
	"time"
)

// Document is an opaque record held by the remote document store.
type Document struct {
	ID         string          `db:"id" json:"id"`
	Collection string          `db:"collection" json:"collection"`
	UserID     string          `db:"user_id" json:"userId"`
	Data       json.RawMessage `db:"data" json:"data"`
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updatedAt"`
}

// DocumentFilter holds equality filters keyed by field name.
type DocumentFilter map[string]string
