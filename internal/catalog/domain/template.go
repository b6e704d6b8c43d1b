// Package domain holds the read-only package catalog: the purchasable
// templates user packages are created from. This core never mutates the
// catalog; pricing and session counts are snapshotted onto the user package
// at assignment time.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrTemplateNotFound = errors.New("catalog template not found")

// Template is an immutable purchasable plan.
type Template struct {
	ID           uuid.UUID
	Name         string
	PriceCents   int64
	SessionCount int
	DurationDays int
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Repository defines read access to the catalog.
type Repository interface {
	// FindByID finds a template by its ID.
	FindByID(ctx context.Context, id uuid.UUID) (*Template, error)

	// ListActive returns templates currently offered for sale.
	ListActive(ctx context.Context) ([]*Template, error)
}
