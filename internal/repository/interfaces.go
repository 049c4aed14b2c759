package repository

import (
	"context"

	"servalliance/internal/dto"
	"servalliance/internal/models"
)

// AlertRepository defines the interface for alert history operations.
type AlertRepository interface {
	// Create operations
	SaveAlert(ctx context.Context, event models.AlertEvent) error

	// Read operations
	GetByID(ctx context.Context, id string) (*dto.AlertInfo, error)
	GetAll(ctx context.Context, filter *dto.AlertFilter) ([]dto.AlertInfo, error)
	GetTotalCount(ctx context.Context, filter *dto.AlertFilter) (int, error)
	GetThreatTypes(ctx context.Context) ([]string, error)
	GetCameras(ctx context.Context) ([]string, error)

	// Update operations
	ClearClip(ctx context.Context, clipPath string) (int64, error)
}
