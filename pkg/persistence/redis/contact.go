package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
)

// ContactRepository stores contacts as JSON documents with a per-tag index Set.
type ContactRepository struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

func (r *ContactRepository) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	return getContact(ctx, r.client, id)
}

func getContact(ctx context.Context, client goredis.Cmdable, id string) (*models.Contact, error) {
	data, err := client.Get(ctx, contactKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("contact %s: %w", id, persistence.ErrContactNotFound)
		}

		return nil, fmt.Errorf("drip/redis: get contact: %w", err)
	}

	var contact models.Contact
	if err := json.Unmarshal(data, &contact); err != nil {
		return nil, fmt.Errorf("drip/redis: unmarshal contact %s: %w", id, err)
	}

	return &contact, nil
}

// FindMany narrows candidates through the tag index when a tag is given.
func (r *ContactRepository) FindMany(ctx context.Context, filter persistence.ContactFilter) ([]*models.Contact, error) {
	source := contactIDsKey
	if filter.Tag != "" {
		source = tagKey(filter.Tag)
	}

	ids, err := r.client.SMembers(ctx, source).Result()
	if err != nil {
		return nil, fmt.Errorf("drip/redis: list contacts smembers: %w", err)
	}

	docs, err := loadDocuments[models.Contact](ctx, r.client, ids, contactKey)
	if err != nil {
		return nil, err
	}

	contacts := make([]*models.Contact, 0, len(docs))

	for _, contact := range docs {
		if filter.Matches(contact) {
			contacts = append(contacts, contact)
		}
	}

	sort.SliceStable(contacts, func(i, j int) bool {
		return contacts[i].ID < contacts[j].ID
	})

	return contacts, nil
}

func (r *ContactRepository) Save(ctx context.Context, contact *models.Contact) error {
	now := time.Now().UTC()

	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = now
	}

	contact.UpdatedAt = now

	data, err := json.Marshal(contact)
	if err != nil {
		return fmt.Errorf("drip/redis: marshal contact: %w", err)
	}

	key := contactKey(contact.ID)

	err = r.client.Watch(ctx, func(tx *goredis.Tx) error {
		var previousTags []string

		previous, err := getContact(ctx, tx, contact.ID)

		switch {
		case err == nil:
			previousTags = previous.Tags
		case !errors.Is(err, persistence.ErrContactNotFound):
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, contactIDsKey, contact.ID)

			for _, tag := range previousTags {
				if !contact.HasTag(tag) {
					pipe.SRem(ctx, tagKey(tag), contact.ID)
				}
			}

			for _, tag := range contact.Tags {
				pipe.SAdd(ctx, tagKey(tag), contact.ID)
			}

			return nil
		})

		return err
	}, key)
	if err != nil {
		return fmt.Errorf("drip/redis: save contact %s: %w", contact.ID, err)
	}

	return nil
}

func (r *ContactRepository) Delete(ctx context.Context, id string) error {
	contact, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, contactKey(id))
	pipe.SRem(ctx, contactIDsKey, id)

	for _, tag := range contact.Tags {
		pipe.SRem(ctx, tagKey(tag), id)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("drip/redis: delete contact: %w", err)
	}

	return nil
}
