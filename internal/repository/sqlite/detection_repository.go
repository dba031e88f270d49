package sqlite

import (
	"fmt"
	"strings"
	"time"

	"ecobin/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// Insert adds a new detection record to the database.
func (r *DetectionRepository) Insert(det *model.Detection) (int64, error) {
	if det.ObjectType == "" {
		return 0, fmt.Errorf("detection object type is required")
	}
	if det.Timestamp.IsZero() {
		det.Timestamp = time.Now()
	}

	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO detections (source, object_type, confidence, x, y, width, height, thumbnail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, det.Source, det.ObjectType, det.Confidence, det.X, det.Y, det.Width, det.Height, det.Thumbnail, det.Timestamp.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert detection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read detection id: %w", err)
	}
	det.ID = id
	return id, nil
}

// List returns detections matching filter, newest first.
func (r *DetectionRepository) List(filter *model.DetectionFilter) ([]model.Detection, error) {
	where, args := buildWhere(filter)
	query := `SELECT id, source, object_type, confidence, x, y, width, height, thumbnail, timestamp
		FROM detections` + where + ` ORDER BY timestamp DESC, id DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	detections := []model.Detection{}
	for rows.Next() {
		var det model.Detection
		if err := rows.Scan(&det.ID, &det.Source, &det.ObjectType, &det.Confidence,
			&det.X, &det.Y, &det.Width, &det.Height, &det.Thumbnail, &det.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, det)
	}

	return detections, rows.Err()
}

// Count returns how many detections match filter, ignoring paging.
func (r *DetectionRepository) Count(filter *model.DetectionFilter) (int, error) {
	where, args := buildWhere(filter)

	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM detections`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return count, nil
}

// ObjectTypes returns every distinct detected object type.
func (r *DetectionRepository) ObjectTypes() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT object_type FROM detections ORDER BY object_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query object types: %w", err)
	}
	defer rows.Close()

	var objects []string
	for rows.Next() {
		var obj string
		if err := rows.Scan(&obj); err != nil {
			return nil, fmt.Errorf("failed to scan object type: %w", err)
		}
		objects = append(objects, obj)
	}

	return objects, rows.Err()
}

// DeleteBefore removes detections older than t and reports how many went.
func (r *DetectionRepository) DeleteBefore(t time.Time) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`DELETE FROM detections WHERE timestamp < ?`, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete detections: %w", err)
	}
	return result.RowsAffected()
}

func buildWhere(filter *model.DetectionFilter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	var conditions []string
	var args []interface{}

	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.ObjectType != "" {
		conditions = append(conditions, "object_type = ?")
		args = append(args, filter.ObjectType)
	}
	if !filter.After.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.After.UTC())
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.Before.UTC())
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
