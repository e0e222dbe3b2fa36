package file

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
)

// ContactRepository handles contact-related file operations.
type ContactRepository struct {
	locked

	files collection[models.Contact]
}

// NewContactRepository creates a new contact repository.
func NewContactRepository(root string) *ContactRepository {
	return &ContactRepository{files: newCollection[models.Contact](root, "contacts")}
}

func (cr *ContactRepository) GetByID(_ context.Context, id string) (*models.Contact, error) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	contact, err := cr.files.read(id)
	if err != nil {
		if errors.Is(err, errNotExist) {
			return nil, fmt.Errorf("contact %s: %w", id, persistence.ErrContactNotFound)
		}

		return nil, fmt.Errorf("failed to fetch contact %s: %w", id, err)
	}

	return contact, nil
}

func (cr *ContactRepository) FindMany(_ context.Context, filter persistence.ContactFilter) ([]*models.Contact, error) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	all, err := cr.files.all()
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	contacts := make([]*models.Contact, 0, len(all))

	for _, contact := range all {
		if filter.Matches(contact) {
			contacts = append(contacts, contact)
		}
	}

	sort.SliceStable(contacts, func(i, j int) bool {
		return contacts[i].ID < contacts[j].ID
	})

	return contacts, nil
}

func (cr *ContactRepository) Save(_ context.Context, contact *models.Contact) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	now := time.Now().UTC()
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = now
	}

	contact.UpdatedAt = now

	if err := cr.files.write(contact.ID, contact); err != nil {
		return fmt.Errorf("failed to save contact %s: %w", contact.ID, err)
	}

	return nil
}

func (cr *ContactRepository) Delete(_ context.Context, id string) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	err := cr.files.remove(id)
	if errors.Is(err, errNotExist) {
		return fmt.Errorf("contact %s: %w", id, persistence.ErrContactNotFound)
	}

	return err
}
