package http

import (
	"github.com/fyrsmithlabs/shelve/internal/indexer"
	"github.com/fyrsmithlabs/shelve/internal/placement"
	"github.com/fyrsmithlabs/shelve/internal/tree"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	indexer.Status
	InSync bool `json:"in_sync"`
}

// SyncResponse is the response body for POST /api/v1/sync and the data of
// the SYNC_COMPLETE event.
type SyncResponse struct {
	Report *indexer.Report `json:"report"`
	Status StatusResponse  `json:"status"`
}

// ProgressEvent is the data of a SYNC_PROGRESS event.
type ProgressEvent struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// PlaceRequest is the request body for POST /api/v1/place.
type PlaceRequest struct {
	LeafID string `json:"leaf_id"`
	DryRun bool   `json:"dry_run"`
	// Limit caps the ranked list in the response. Zero means 10.
	Limit int `json:"limit"`
}

// ItemCreatedRequest is the request body for POST /api/v1/items/created.
type ItemCreatedRequest struct {
	Item tree.Item `json:"item"`
	Mode string    `json:"mode"`
}

// ItemChangedRequest is the request body for POST /api/v1/items/changed.
type ItemChangedRequest struct {
	ID     string      `json:"id"`
	Change tree.Change `json:"change"`
}

// ItemMovedRequest is the request body for POST /api/v1/items/moved.
type ItemMovedRequest struct {
	ID string `json:"id"`
}

// ItemRemovedRequest is the request body for POST /api/v1/items/removed.
// DescendantIDs may be omitted; the last known tree shape is used then.
type ItemRemovedRequest struct {
	ID            string   `json:"id"`
	DescendantIDs []string `json:"descendant_ids,omitempty"`
}

// EventResponse acknowledges an item event.
type EventResponse struct {
	Handled  bool                `json:"handled"`
	Decision *placement.Decision `json:"decision,omitempty"`
}

// ClearResponse is the response body for DELETE /api/v1/embeddings.
type ClearResponse struct {
	Deleted int `json:"deleted"`
}
