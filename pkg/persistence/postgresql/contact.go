package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/lib/pq"
)

const contactColumns = `
			id
		  , email
		  , phone
		  , first_name
		  , last_name
		  , tags
		  , custom_fields
		  , deal_stage
		  , created_at
		  , updated_at
		  , last_contacted_at`

// ContactRepository handles contact-related database operations.
type ContactRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewContactRepository creates a new contact repository.
func NewContactRepository(db *sql.DB, logger *slog.Logger) *ContactRepository {
	return &ContactRepository{db: db, logger: logger}
}

func (r *ContactRepository) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`

	contact, err := r.scanContact(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("contact %s: %w", id, persistence.ErrContactNotFound)
		}

		return nil, fmt.Errorf("failed to scan contact: %w", err)
	}

	return contact, nil
}

// FindMany pushes tag and creation-day filters down to the indexed columns.
func (r *ContactRepository) FindMany(ctx context.Context, filter persistence.ContactFilter) ([]*models.Contact, error) {
	var (
		where []string
		args  []any
	)

	if filter.Tag != "" {
		args = append(args, filter.Tag)
		where = append(where, fmt.Sprintf("$%d = ANY(tags)", len(args)))
	}

	if len(filter.CreatedOn) > 0 {
		days := make([]string, 0, len(filter.CreatedOn))

		for _, md := range filter.CreatedOn {
			args = append(args, int(md.Month), md.Day)
			days = append(days, fmt.Sprintf(
				"(EXTRACT(MONTH FROM created_at AT TIME ZONE 'UTC') = $%d AND EXTRACT(DAY FROM created_at AT TIME ZONE 'UTC') = $%d)",
				len(args)-1, len(args),
			))
		}

		where = append(where, "("+strings.Join(days, " OR ")+")")
	}

	query := `SELECT ` + contactColumns + ` FROM contacts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += " ORDER BY id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	contacts := make([]*models.Contact, 0)

	for rows.Next() {
		contact, err := r.scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}

		contacts = append(contacts, contact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}

	return contacts, nil
}

func (r *ContactRepository) Save(ctx context.Context, contact *models.Contact) error {
	now := time.Now().UTC()

	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = now
	}

	contact.UpdatedAt = now

	customJSON, err := json.Marshal(nonNilMap(contact.CustomFields))
	if err != nil {
		return fmt.Errorf("failed to marshal custom fields: %w", err)
	}

	tags := contact.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO contacts (id, email, phone, first_name, last_name, tags, custom_fields,
			deal_stage, created_at, updated_at, last_contacted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			tags = EXCLUDED.tags,
			custom_fields = EXCLUDED.custom_fields,
			deal_stage = EXCLUDED.deal_stage,
			updated_at = EXCLUDED.updated_at,
			last_contacted_at = EXCLUDED.last_contacted_at
	`

	_, err = r.db.ExecContext(ctx, query,
		contact.ID,
		nullString(contact.Email),
		nullString(contact.Phone),
		nullString(contact.FirstName),
		nullString(contact.LastName),
		pq.Array(tags),
		customJSON,
		nullString(contact.DealStage),
		contact.CreatedAt,
		contact.UpdatedAt,
		contact.LastContactedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save contact %s: %w", contact.ID, err)
	}

	return nil
}

func (r *ContactRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM contacts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete contact %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("contact %s: %w", id, persistence.ErrContactNotFound)
	}

	return nil
}

func (r *ContactRepository) scanContact(row scanner) (*models.Contact, error) {
	var (
		contact                   models.Contact
		email, phone, first, last sql.NullString
		dealStage                 sql.NullString
		customJSON                []byte
		lastContacted             sql.NullTime
	)

	err := row.Scan(
		&contact.ID,
		&email,
		&phone,
		&first,
		&last,
		pq.Array(&contact.Tags),
		&customJSON,
		&dealStage,
		&contact.CreatedAt,
		&contact.UpdatedAt,
		&lastContacted,
	)
	if err != nil {
		return nil, err
	}

	contact.Email = email.String
	contact.Phone = phone.String
	contact.FirstName = first.String
	contact.LastName = last.String
	contact.DealStage = dealStage.String

	if lastContacted.Valid {
		t := lastContacted.Time.UTC()
		contact.LastContactedAt = &t
	}

	if err := json.Unmarshal(customJSON, &contact.CustomFields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal custom fields: %w", err)
	}

	return &contact, nil
}
