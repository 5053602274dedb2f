package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"warrn-service/models"
)

const reportColumns = "id, latitude, longitude, animal_type, `condition`, description, " +
	"reporter_email, image_ref, status, responder_id, ai_suggestion, " +
	"resolution_notes, resolution_image_ref, created_at"

// CreateReport inserts a new report with status New and fills in its
// assigned id and creation time.
func (d *Database) CreateReport(ctx context.Context, r *models.Report) error {
	result, err := d.db.ExecContext(ctx,
		"INSERT INTO reports (latitude, longitude, animal_type, `condition`, description, "+
			"reporter_email, image_ref, status, ai_suggestion) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.Latitude, r.Longitude, r.AnimalType, r.Condition, nullable(r.Description),
		r.ReporterEmail, nullable(r.ImageRef), string(models.StatusNew), nullable(r.AISuggestion))
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get report id: %w", err)
	}
	r.ID = id
	r.Status = models.StatusNew

	stored, err := d.GetReport(ctx, id)
	if err != nil {
		// The insert committed; only the created_at read-back failed.
		log.Printf("Failed to read back report %d: %v", id, err)
		return nil
	}
	r.CreatedAt = stored.CreatedAt
	return nil
}

// GetReport fetches a single report by id. Returns models.ErrNotFound if
// no such report exists.
func (d *Database) GetReport(ctx context.Context, id int64) (*models.Report, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+reportColumns+" FROM reports WHERE id = ?", id)
	report, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query report %d: %w", id, err)
	}
	return report, nil
}

// ListReports returns reports matching the filter, newest first.
func (d *Database) ListReports(ctx context.Context, filter models.ReportFilter) ([]models.Report, error) {
	query := "SELECT " + reportColumns + " FROM reports"
	clauses := []string{}
	args := []interface{}{}

	if filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, *filter.To)
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	reports := []models.Report{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		reports = append(reports, *report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate report rows: %w", err)
	}
	return reports, nil
}

// ClaimReport atomically transitions a report from New to Acknowledged and
// records the claiming responder. Returns true iff this call won the
// transition; a false result with nil error means the report was not in
// status New (or does not exist).
func (d *Database) ClaimReport(ctx context.Context, reportID, responderID int64) (bool, error) {
	result, err := d.db.ExecContext(ctx,
		"UPDATE reports SET status = ?, responder_id = ? WHERE id = ? AND status = ?",
		string(models.StatusAcknowledged), responderID, reportID, string(models.StatusNew))
	if err != nil {
		return false, fmt.Errorf("failed to claim report %d: %w", reportID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get claim result for report %d: %w", reportID, err)
	}
	return rows == 1, nil
}

// ResolveReport atomically transitions a report from Acknowledged to
// Resolved, guarded on the claiming responder. Returns true iff the
// transition applied.
func (d *Database) ResolveReport(ctx context.Context, reportID, responderID int64, notes, imageRef string) (bool, error) {
	result, err := d.db.ExecContext(ctx,
		"UPDATE reports SET status = ?, resolution_notes = ?, resolution_image_ref = ? "+
			"WHERE id = ? AND status = ? AND responder_id = ?",
		string(models.StatusResolved), nullable(notes), nullable(imageRef),
		reportID, string(models.StatusAcknowledged), responderID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve report %d: %w", reportID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get resolve result for report %d: %w", reportID, err)
	}
	return rows == 1, nil
}

// GetAnalytics aggregates report and user counts for the admin dashboard.
func (d *Database) GetAnalytics(ctx context.Context) (*models.AnalyticsSummary, error) {
	summary := &models.AnalyticsSummary{
		CountsByStatus: map[string]int{},
	}

	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&summary.TotalReports); err != nil {
		return nil, fmt.Errorf("failed to count reports: %w", err)
	}
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&summary.TotalUsers); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM reports GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count reports by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		summary.CountsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", err)
	}

	animalRows, err := d.db.QueryContext(ctx,
		"SELECT animal_type, COUNT(*) AS cnt FROM reports GROUP BY animal_type ORDER BY cnt DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to count reports by animal: %w", err)
	}
	defer animalRows.Close()
	for animalRows.Next() {
		var ac models.AnimalCount
		if err := animalRows.Scan(&ac.AnimalType, &ac.Count); err != nil {
			return nil, fmt.Errorf("failed to scan animal count: %w", err)
		}
		summary.CountsByAnimal = append(summary.CountsByAnimal, ac)
	}
	if err := animalRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate animal counts: %w", err)
	}

	return summary, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row rowScanner) (*models.Report, error) {
	var r models.Report
	var description, imageRef, aiSuggestion, resolutionNotes, resolutionImageRef sql.NullString
	var responderID sql.NullInt64
	var status string

	err := row.Scan(&r.ID, &r.Latitude, &r.Longitude, &r.AnimalType, &r.Condition,
		&description, &r.ReporterEmail, &imageRef, &status, &responderID,
		&aiSuggestion, &resolutionNotes, &resolutionImageRef, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Description = description.String
	r.ImageRef = imageRef.String
	r.Status = models.ReportStatus(status)
	r.AISuggestion = aiSuggestion.String
	r.ResolutionNotes = resolutionNotes.String
	r.ResolutionImageRef = resolutionImageRef.String
	if responderID.Valid {
		r.ResponderID = &responderID.Int64
	}
	return &r, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
