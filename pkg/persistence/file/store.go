package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/drip/pkg/persistence"
)

var errNotExist = errors.New("record does not exist")

// collection stores one JSON document per record under root/name.
type collection[T any] struct {
	dir string
}

func newCollection[T any](root, name string) collection[T] {
	return collection[T]{dir: filepath.Join(root, name)}
}

// validateID validates that the ID is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", persistence.ErrInvalidID)
	}

	// Check for path traversal attempts
	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q contains invalid characters", persistence.ErrInvalidID, id)
	}

	return nil
}

func (c collection[T]) path(id string) string {
	return filepath.Join(c.dir, id+".json")
}

func (c collection[T]) read(id string) (*T, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(c.path(id)) // #nosec G304 -- id is validated and the path constructed safely
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNotExist
		}

		return nil, fmt.Errorf("failed to read %s: %w", id, err)
	}

	var record T

	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}

	return &record, nil
}

func (c collection[T]) write(id string, record *T) error {
	if err := validateID(id); err != nil {
		return err
	}

	if err := os.MkdirAll(c.dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.dir, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	// Write to a temp file and rename so readers never observe a partial document.
	tmp := c.path(id) + ".tmp"

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	if err := os.Rename(tmp, c.path(id)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", id, err)
	}

	return nil
}

func (c collection[T]) remove(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	err := os.Remove(c.path(id))
	if err != nil && os.IsNotExist(err) {
		return errNotExist
	}

	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}

	return nil
}

func (c collection[T]) all() ([]*T, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*T{}, nil
		}

		return nil, fmt.Errorf("failed to read directory %s: %w", c.dir, err)
	}

	records := make([]*T, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		record, err := c.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			if errors.Is(err, errNotExist) {
				continue
			}

			return nil, err
		}

		records = append(records, record)
	}

	return records, nil
}
