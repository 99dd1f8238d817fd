// Package docname parses collaborative document names of the form
// "{entityType}:{entityId}:{field}".
package docname

import (
	"regexp"
	"unicode/utf8"
)

// EntityType is one of the entity kinds whose description can be edited.
type EntityType string

const (
	Task      EntityType = "task"
	Epic      EntityType = "epic"
	Story     EntityType = "story"
	Milestone EntityType = "milestone"
)

// FieldDescription is the only field exposed for collaborative editing.
const FieldDescription = "description"

const maxIDLength = 100

var namePattern = regexp.MustCompile(`^(task|epic|story|milestone):([^:]+):(.+)$`)

var allowedTypes = map[EntityType]struct{}{
	Task:      {},
	Epic:      {},
	Story:     {},
	Milestone: {},
}

var allowedFields = map[string]struct{}{
	FieldDescription: {},
}

// Identity is a decoded document name.
type Identity struct {
	Type  EntityType `json:"type"`
	ID    string     `json:"id"`
	Field string     `json:"field"`
}

// String rebuilds the canonical document name.
func (i Identity) String() string {
	return string(i.Type) + ":" + i.ID + ":" + i.Field
}

// Parse decodes a document name. The second return value is false for any name
// outside the grammar, an unsupported entity type or field, or an id longer than
// 100 characters.
func Parse(name string) (Identity, bool) {
	match := namePattern.FindStringSubmatch(name)
	if match == nil {
		return Identity{}, false
	}
	entityType := EntityType(match[1])
	if _, ok := allowedTypes[entityType]; !ok {
		return Identity{}, false
	}
	field := match[3]
	if _, ok := allowedFields[field]; !ok {
		return Identity{}, false
	}
	id := match[2]
	if n := utf8.RuneCountInString(id); n < 1 || n > maxIDLength {
		return Identity{}, false
	}
	return Identity{Type: entityType, ID: id, Field: field}, true
}

// Valid reports whether name parses.
func Valid(name string) bool {
	_, ok := Parse(name)
	return ok
}

// Types lists the supported entity types in a stable order.
func Types() []EntityType {
	return []EntityType{Task, Epic, Story, Milestone}
}
