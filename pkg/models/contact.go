package models

import (
	"slices"
	"strings"
	"time"
)

// Contact field names addressable from templates, conditions, delays and action targets.
const (
	FieldID              = "id"
	FieldEmail           = "email"
	FieldPhone           = "phone"
	FieldFirstName       = "first_name"
	FieldLastName        = "last_name"
	FieldTags            = "tags"
	FieldDealStage       = "deal_stage"
	FieldCreatedAt       = "created_at"
	FieldUpdatedAt       = "updated_at"
	FieldLastContactedAt = "last_contacted_at"
	FieldCustomPrefix    = "custom_fields."
)

var fieldAliases = map[string]string{
	"firstName":       FieldFirstName,
	"lastName":        FieldLastName,
	"dealStage":       FieldDealStage,
	"createdAt":       FieldCreatedAt,
	"updatedAt":       FieldUpdatedAt,
	"lastContactedAt": FieldLastContactedAt,
	"lastContacted":   FieldLastContactedAt,
}

// Contact is the CRM entity workflows run against.
type Contact struct {
	ID              string         `json:"id"                          validate:"required"`
	Email           string         `json:"email,omitempty"             validate:"omitempty,email"`
	Phone           string         `json:"phone,omitempty"`
	FirstName       string         `json:"first_name,omitempty"`
	LastName        string         `json:"last_name,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	CustomFields    map[string]any `json:"custom_fields,omitempty"`
	DealStage       string         `json:"deal_stage,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	LastContactedAt *time.Time     `json:"last_contacted_at,omitempty"`
}

// HasTag reports whether the contact carries tag.
func (c *Contact) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}

// AddTag adds tag unless already present. It reports whether the tag set changed.
func (c *Contact) AddTag(tag string) bool {
	if c.HasTag(tag) {
		return false
	}

	c.Tags = append(c.Tags, tag)

	return true
}

// RemoveTag removes tag. It reports whether the tag set changed.
func (c *Contact) RemoveTag(tag string) bool {
	idx := slices.Index(c.Tags, tag)
	if idx < 0 {
		return false
	}

	c.Tags = slices.Delete(c.Tags, idx, idx+1)

	return true
}

// SetField writes a well-known attribute or, for any other name, a custom field.
func (c *Contact) SetField(name string, value any) {
	name = canonicalField(name)

	str, _ := value.(string)

	switch name {
	case FieldEmail:
		c.Email = str
	case FieldPhone:
		c.Phone = str
	case FieldFirstName:
		c.FirstName = str
	case FieldLastName:
		c.LastName = str
	case FieldDealStage:
		c.DealStage = str
	default:
		if c.CustomFields == nil {
			c.CustomFields = make(map[string]any)
		}

		c.CustomFields[strings.TrimPrefix(name, FieldCustomPrefix)] = value
	}
}

// Field resolves a contact attribute by name. Unknown names fall back to custom fields.
// Empty well-known attributes are reported as absent.
func (c *Contact) Field(name string) (any, bool) {
	name = canonicalField(name)

	switch name {
	case FieldID:
		return c.ID, true
	case FieldEmail:
		return c.Email, c.Email != ""
	case FieldPhone:
		return c.Phone, c.Phone != ""
	case FieldFirstName:
		return c.FirstName, c.FirstName != ""
	case FieldLastName:
		return c.LastName, c.LastName != ""
	case FieldDealStage:
		return c.DealStage, c.DealStage != ""
	case FieldTags:
		return c.Tags, true
	case FieldCreatedAt:
		return c.CreatedAt, !c.CreatedAt.IsZero()
	case FieldUpdatedAt:
		return c.UpdatedAt, !c.UpdatedAt.IsZero()
	case FieldLastContactedAt:
		if c.LastContactedAt == nil {
			return nil, false
		}

		return *c.LastContactedAt, true
	}

	value, ok := c.CustomFields[strings.TrimPrefix(name, FieldCustomPrefix)]
	if !ok || value == nil {
		return nil, false
	}

	return value, true
}

// TimeField resolves a time-valued attribute. Custom fields holding RFC 3339 strings are parsed.
func (c *Contact) TimeField(name string) (time.Time, bool) {
	value, ok := c.Field(name)
	if !ok {
		return time.Time{}, false
	}

	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}

		return t, true
	default:
		return time.Time{}, false
	}
}

// ToMap renders the contact as the template and condition context.
func (c *Contact) ToMap() map[string]any {
	m := map[string]any{
		FieldID:         c.ID,
		FieldEmail:      c.Email,
		FieldPhone:      c.Phone,
		FieldFirstName:  c.FirstName,
		FieldLastName:   c.LastName,
		FieldDealStage:  c.DealStage,
		FieldTags:       append([]string{}, c.Tags...),
		FieldCreatedAt:  c.CreatedAt,
		FieldUpdatedAt:  c.UpdatedAt,
		"custom_fields": copyMap(c.CustomFields),
	}

	if c.LastContactedAt != nil {
		m[FieldLastContactedAt] = *c.LastContactedAt
	}

	return m
}

func canonicalField(name string) string {
	if alias, ok := fieldAliases[name]; ok {
		return alias
	}

	return name
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}
