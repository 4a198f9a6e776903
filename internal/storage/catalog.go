package storage

import (
	"context"
	"time"

	"github.com/agendaciudadana/citas/internal/model"
	"github.com/agendaciudadana/citas/libs/db"
)

// CatalogRepository serves the read-only reference data: offices, procedures
// and their availability. Nothing here mutates state.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) ListOffices(ctx context.Context) ([]model.Office, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT o.id, o.name, o.address, COALESCE(o.phone, ''),
			COUNT(op.procedure_id) FILTER (WHERE op.is_available)
		FROM offices o
		LEFT JOIN office_procedures op ON op.office_id = o.id
		WHERE o.is_active
		GROUP BY o.id
		ORDER BY o.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offices []model.Office
	for rows.Next() {
		var o model.Office
		if err := rows.Scan(&o.ID, &o.Name, &o.Address, &o.Phone, &o.TotalProcedures); err != nil {
			return nil, err
		}
		offices = append(offices, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return offices, nil
}

func (r *CatalogRepository) GetOffice(ctx context.Context, officeID int64) (model.OfficeDetail, error) {
	var d model.OfficeDetail
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, address, COALESCE(phone, '')
		FROM offices
		WHERE id = $1 AND is_active
	`, officeID).Scan(&d.ID, &d.Name, &d.Address, &d.Phone)
	if err != nil {
		return model.OfficeDetail{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.name, COALESCE(p.description, ''),
			p.estimated_duration_minutes, p.cost::text,
			COALESCE(p.required_documents, '')
		FROM procedures p
		JOIN office_procedures op ON op.procedure_id = p.id
		WHERE op.office_id = $1 AND op.is_available AND p.is_active
		ORDER BY p.name
	`, officeID)
	if err != nil {
		return model.OfficeDetail{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Procedure
		if err := rows.Scan(&p.ID, &p.Name, &p.Description,
			&p.EstimatedDurationMin, &p.Cost, &p.RequiredDocuments); err != nil {
			return model.OfficeDetail{}, err
		}
		d.Procedures = append(d.Procedures, p)
	}
	if rows.Err() != nil {
		return model.OfficeDetail{}, rows.Err()
	}
	d.TotalProcedures = len(d.Procedures)
	return d, nil
}

// OfficeAvailability returns the office's slots with remaining capacity
// derived. The zero date means "today onward".
func (r *CatalogRepository) OfficeAvailability(ctx context.Context, officeID int64, date time.Time) ([]model.SlotAvailability, error) {
	query := `
		SELECT s.id, s.office_id, s.slot_date,
			to_char(s.start_time, 'HH24:MI'),
			to_char(s.end_time, 'HH24:MI'),
			s.capacity_max, s.reservations_current, s.is_open
		FROM slots s
		WHERE s.office_id = $1
	`
	args := []any{officeID}
	if date.IsZero() {
		query += ` AND s.slot_date >= CURRENT_DATE`
	} else {
		query += ` AND s.slot_date = $2`
		args = append(args, date)
	}
	query += ` ORDER BY s.slot_date, s.start_time`

	return r.queryAvailability(ctx, query, args...)
}

// ProcedureAvailability returns bookable slots across every active office
// offering the procedure.
func (r *CatalogRepository) ProcedureAvailability(ctx context.Context, procedureID int64, date time.Time) ([]model.SlotAvailability, error) {
	query := `
		SELECT s.id, s.office_id, s.slot_date,
			to_char(s.start_time, 'HH24:MI'),
			to_char(s.end_time, 'HH24:MI'),
			s.capacity_max, s.reservations_current, s.is_open,
			o.name, o.address
		FROM slots s
		JOIN offices o ON o.id = s.office_id
		JOIN office_procedures op ON op.office_id = o.id
		WHERE op.procedure_id = $1
			AND op.is_available
			AND o.is_active
			AND s.is_open
			AND s.reservations_current < s.capacity_max
	`
	args := []any{procedureID}
	if date.IsZero() {
		query += ` AND s.slot_date >= CURRENT_DATE`
	} else {
		query += ` AND s.slot_date = $2`
		args = append(args, date)
	}
	query += ` ORDER BY s.slot_date, s.start_time`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SlotAvailability
	for rows.Next() {
		var sa model.SlotAvailability
		if err := rows.Scan(&sa.ID, &sa.OfficeID, &sa.Date, &sa.StartTime, &sa.EndTime,
			&sa.CapacityMax, &sa.ReservationsCurrent, &sa.IsOpen,
			&sa.OfficeName, &sa.OfficeAddress); err != nil {
			return nil, err
		}
		sa.SpacesAvailable = sa.CapacityMax - sa.ReservationsCurrent
		out = append(out, sa)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *CatalogRepository) ListProcedures(ctx context.Context) ([]model.Procedure, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, COALESCE(description, ''),
			estimated_duration_minutes, cost::text,
			COALESCE(required_documents, '')
		FROM procedures
		WHERE is_active
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var procs []model.Procedure
	for rows.Next() {
		var p model.Procedure
		if err := rows.Scan(&p.ID, &p.Name, &p.Description,
			&p.EstimatedDurationMin, &p.Cost, &p.RequiredDocuments); err != nil {
			return nil, err
		}
		procs = append(procs, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return procs, nil
}

func (r *CatalogRepository) GetProcedure(ctx context.Context, procedureID int64) (model.Procedure, error) {
	var p model.Procedure
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(description, ''),
			estimated_duration_minutes, cost::text,
			COALESCE(required_documents, '')
		FROM procedures
		WHERE id = $1 AND is_active
	`, procedureID).Scan(&p.ID, &p.Name, &p.Description,
		&p.EstimatedDurationMin, &p.Cost, &p.RequiredDocuments)
	if err != nil {
		return model.Procedure{}, err
	}
	return p, nil
}

func (r *CatalogRepository) queryAvailability(ctx context.Context, query string, args ...any) ([]model.SlotAvailability, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SlotAvailability
	for rows.Next() {
		var sa model.SlotAvailability
		if err := rows.Scan(&sa.ID, &sa.OfficeID, &sa.Date, &sa.StartTime, &sa.EndTime,
			&sa.CapacityMax, &sa.ReservationsCurrent, &sa.IsOpen); err != nil {
			return nil, err
		}
		sa.SpacesAvailable = sa.CapacityMax - sa.ReservationsCurrent
		out = append(out, sa)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
