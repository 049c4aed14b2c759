package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"servalliance/internal/dto"
	"servalliance/internal/models"
)

// AlertRepository implements repository.AlertRepository for SQLite.
type AlertRepository struct {
	db *DB
}

// NewAlertRepository creates a new SQLite alert repository.
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// SaveAlert records one alert event. Detection times are stored as unix
// milliseconds so range filters compare numerically.
func (r *AlertRepository) SaveAlert(ctx context.Context, event models.AlertEvent) error {
	r.db.Lock()
	defer r.db.Unlock()

	var clip sql.NullString
	if event.HasClip() {
		clip = sql.NullString{String: event.ClipPath, Valid: true}
	}

	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO alerts (id, camera, threat_type, confidence, clip_path, x1, y1, x2, y2, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.Camera, event.ThreatType, event.ConfidencePercent, clip,
		event.Box.X1, event.Box.Y1, event.Box.X2, event.Box.Y2, event.DetectedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

const alertColumns = `id, camera, threat_type, confidence, clip_path, x1, y1, x2, y2, detected_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (dto.AlertInfo, error) {
	var (
		info       dto.AlertInfo
		clip       sql.NullString
		detectedAt int64
	)
	err := row.Scan(&info.ID, &info.Camera, &info.ThreatType, &info.ConfidencePercent, &clip,
		&info.Box.X1, &info.Box.Y1, &info.Box.X2, &info.Box.Y2, &detectedAt)
	if err != nil {
		return info, err
	}
	if clip.Valid && clip.String != "" {
		info.Clip = filepath.Base(clip.String)
	}
	info.DetectedAt = time.UnixMilli(detectedAt)
	return info, nil
}

// GetByID retrieves an alert by its ID. A missing alert yields nil, nil.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*dto.AlertInfo, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	info, err := scanAlert(r.db.Conn().QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return &info, nil
}

// whereClause builds the filter conditions shared by GetAll and GetTotalCount.
func whereClause(filter *dto.AlertFilter) (string, []any) {
	query := " WHERE 1=1"
	args := []any{}
	if filter == nil {
		return query, args
	}

	if filter.Camera != "" {
		query += " AND camera = ?"
		args = append(args, filter.Camera)
	}

	if filter.ThreatType != "" {
		query += " AND threat_type = ?"
		args = append(args, filter.ThreatType)
	}

	if !filter.Since.IsZero() {
		query += " AND detected_at >= ?"
		args = append(args, filter.Since.UnixMilli())
	}

	if !filter.Until.IsZero() {
		query += " AND detected_at <= ?"
		args = append(args, filter.Until.UnixMilli())
	}

	if filter.MinConfidence > 0 {
		query += " AND confidence >= ?"
		args = append(args, filter.MinConfidence)
	}

	return query, args
}

// GetAll retrieves alerts matching filter, newest first.
func (r *AlertRepository) GetAll(ctx context.Context, filter *dto.AlertFilter) ([]dto.AlertInfo, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)
	query := `SELECT ` + alertColumns + ` FROM alerts` + where + ` ORDER BY detected_at DESC, id`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []dto.AlertInfo{}
	for rows.Next() {
		info, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, info)
	}
	return alerts, rows.Err()
}

// GetTotalCount returns the number of alerts matching filter, ignoring
// pagination.
func (r *AlertRepository) GetTotalCount(ctx context.Context, filter *dto.AlertFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)
	var count int
	if err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}

func (r *AlertRepository) distinct(ctx context.Context, column string) ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT %s FROM alerts ORDER BY %s`, column, column))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", column, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", column, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// GetThreatTypes lists every threat type seen so far.
func (r *AlertRepository) GetThreatTypes(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "threat_type")
}

// GetCameras lists every camera that raised an alert.
func (r *AlertRepository) GetCameras(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "camera")
}

// ClearClip forgets a clip on every alert referencing it, after the clip
// file was removed. Alerts match on the clip's file name, so the clip
// directory may be given in another form than the one the server used.
// It returns the number of alerts updated.
func (r *AlertRepository) ClearClip(ctx context.Context, clipPath string) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	name := filepath.Base(clipPath)
	result, err := r.db.Conn().ExecContext(ctx, `
		UPDATE alerts SET clip_path = NULL
		WHERE clip_path = ? OR clip_path LIKE ? ESCAPE '\'
	`, name, "%/"+likeEscaper.Replace(name))
	if err != nil {
		return 0, fmt.Errorf("failed to clear clip: %w", err)
	}
	return result.RowsAffected()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
