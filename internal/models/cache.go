package models

import (
	"encoding/json"
	"time"
)

// CacheSource identifies where a served value came from.
type CacheSource string

const (
	CacheSourceMemory   CacheSource = "memory"
	CacheSourceSnapshot CacheSource = "snapshot"
	CacheSourceRemote   CacheSource = "remote"
	CacheSourceLocal    CacheSource = "local"
	CacheSourceFallback CacheSource = "fallback"
)

// CacheEntry is a cached payload together with its provenance.
type CacheEntry[T any] struct {
	Key        string         `json:"key"`
	Payload    T              `json:"payload"`
	FetchedAt  time.Time      `json:"fetchedAt"`
	Source     CacheSource    `json:"source"`
	IsFallback bool           `json:"isFallback,omitempty"`
	Reason     FallbackReason `json:"reason,omitempty"`
	Stale      bool           `json:"stale,omitempty"`
	Refreshing bool           `json:"refreshing,omitempty"`
}

// Snapshot is the persisted form of a cache entry. It is always written whole.
type Snapshot struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetchedAt"`
	Source    CacheSource     `json:"source"`
}
