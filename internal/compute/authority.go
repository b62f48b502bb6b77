// Package compute is the client side of the derivation cache: it turns a
// (input, derivation) pair into bytes, reading the layered store first and
// asking the compute authority otherwise.
//
// The authority guarantees at most one computation per derivation key
// across all of its clients; this package's half of that protocol is
// backing off while someone else holds the key and never trusting anything
// but the store for the result.
package compute

import (
	"context"

	"github.com/fahadfarid28/home-sub000/internal/derivation"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// Status is the authority's answer to a derive request.
type Status string

const (
	// StatusDone means the output is in the store under DestKey.
	StatusDone Status = "done"
	// StatusAlreadyInProgress means another request holds the key.
	StatusAlreadyInProgress Status = "already_in_progress"
	// StatusTooManyRequests means the authority is at capacity.
	StatusTooManyRequests Status = "too_many_requests"
)

// DeriveRequest asks the authority to compute one derivation. The input
// bytes are read from the store under the input's object key.
type DeriveRequest struct {
	Env        string                `json:"env"`
	Input      pak.Input             `json:"input"`
	Derivation derivation.Derivation `json:"derivation"`
	// Fonts are the font inputs a DrawioRender embeds.
	Fonts []pak.Input `json:"fonts,omitempty"`
}

// DeriveResponse is the outcome of a DeriveRequest.
type DeriveResponse struct {
	Status  Status `json:"status"`
	DestKey string `json:"dest_key,omitempty"`
}

// Authority is the remote side that owns computation and the durable store.
type Authority interface {
	Derive(ctx context.Context, req DeriveRequest) (DeriveResponse, error)
	// ListMissing returns the subset of keys not present in the store.
	ListMissing(ctx context.Context, keys []string) ([]string, error)
	PutObject(ctx context.Context, key string, data []byte) error
	PutRevision(ctx context.Context, id pak.RevisionID, data []byte) error
}
