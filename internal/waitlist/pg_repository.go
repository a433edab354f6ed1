package waitlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const entryColumns = `id, patient_id, service_id, days, flexibility_mode, flexibility_window_days, tier, enqueued_at, status, appointment_id, created_at, updated_at`

// Requested days are stored as a jsonb document; they are only ever read back
// whole for matching, never queried by field.
type dayRequestDoc struct {
	Day     string   `json:"day"`
	Periods []Period `json:"periods"`
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var daysJSON []byte
	var appointmentID *uuid.UUID

	err := row.Scan(
		&e.ID,
		&e.PatientID,
		&e.ServiceID,
		&daysJSON,
		&e.Flexibility.Mode,
		&e.Flexibility.WindowDays,
		&e.Tier,
		&e.EnqueuedAt,
		&e.Status,
		&appointmentID,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}

	days, err := decodeDays(daysJSON)
	if err != nil {
		return nil, fmt.Errorf("decode requested days: %w", err)
	}

	e.Days = days
	e.AppointmentID = appointmentID
	return &e, nil
}

func encodeDays(days []DayRequest) ([]byte, error) {
	docs := make([]dayRequestDoc, 0, len(days))
	for _, d := range days {
		docs = append(docs, dayRequestDoc{
			Day:     d.Day.Format("2006-01-02"),
			Periods: d.Periods,
		})
	}
	return json.Marshal(docs)
}

func decodeDays(data []byte) ([]DayRequest, error) {
	var docs []dayRequestDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, err
	}

	days := make([]DayRequest, 0, len(docs))
	for _, doc := range docs {
		day, err := parseDay(doc.Day)
		if err != nil {
			return nil, err
		}
		days = append(days, DayRequest{Day: day, Periods: doc.Periods})
	}
	return days, nil
}

func parseDay(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}

func (r *PgRepository) InsertEntry(ctx context.Context, e *Entry) error {
	daysJSON, err := encodeDays(e.Days)
	if err != nil {
		return fmt.Errorf("encode requested days: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO waitlist_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, e.PatientID, e.ServiceID, daysJSON, e.Flexibility.Mode, e.Flexibility.WindowDays,
		e.Tier, e.EnqueuedAt, e.Status, e.AppointmentID, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	return nil
}

func (r *PgRepository) GetEntryByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE id = $1
	`, id)
	return scanEntry(row)
}

func (r *PgRepository) ListWaiting(ctx context.Context) ([]Entry, error) {
	return r.listByStatus(ctx, StatusWaiting)
}

func (r *PgRepository) ListAllocated(ctx context.Context) ([]Entry, error) {
	return r.listByStatus(ctx, StatusAllocated)
}

func (r *PgRepository) listByStatus(ctx context.Context, status Status) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE status = $1
		ORDER BY CASE tier WHEN 'vip' THEN 0 WHEN 'urgent' THEN 1 ELSE 2 END,
		         enqueued_at
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateEntryStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+entryColumns+`
	`, id, to, from)

	return scanEntry(row)
}

func (r *PgRepository) SetEntryTier(ctx context.Context, id uuid.UUID, tier Tier) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET tier = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'waiting'
		RETURNING `+entryColumns+`
	`, id, tier)

	return scanEntry(row)
}

func (r *PgRepository) SetEntryAllocation(ctx context.Context, id uuid.UUID, appointmentID *uuid.UUID, from, to Status) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET appointment_id = $2,
		    status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $4
		RETURNING `+entryColumns+`
	`, id, appointmentID, to, from)

	return scanEntry(row)
}
