// Package entity defines the canonical game entity produced by reconciliation.
package entity

import (
	"maps"

	"github.com/agentstation/grimoire/pkg/provenance"
)

// Type names the kind of game entity. Match keys are namespaced per type,
// so a boss and an item that share a name never merge.
type Type string

// Known entity types. Loaders may introduce others.
const (
	TypeWeapon Type = "weapon"
	TypeArmor  Type = "armor"
	TypeBoss   Type = "boss"
	TypeItem   Type = "item"
	TypeSpell  Type = "spell"
	TypeNPC    Type = "npc"
)

// String returns the string representation of the type.
func (t Type) String() string {
	return string(t)
}

// CanonicalEntity is the single merged record for one (entity type, match key).
type CanonicalEntity struct {
	EntityType  Type                    `json:"entity_type" yaml:"entity_type"`
	Name        string                  `json:"name" yaml:"name"`
	Slug        string                  `json:"slug" yaml:"slug"`
	IsDLC       bool                    `json:"is_dlc" yaml:"is_dlc"`
	Description string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Provenance  []provenance.Provenance `json:"provenance,omitempty" yaml:"provenance,omitempty"`

	// Sources lists every source tag that contributed, sorted.
	Sources []string `json:"sources,omitempty" yaml:"sources,omitempty"`

	// Fields holds source-specific attributes of the winning record.
	Fields map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Clone returns a deep copy of e. Nested values inside Fields are shared;
// they are treated as immutable once loaded.
func (e CanonicalEntity) Clone() CanonicalEntity {
	c := e
	c.Provenance = provenance.Clone(e.Provenance)
	if e.Sources != nil {
		c.Sources = append([]string(nil), e.Sources...)
	}
	if e.Fields != nil {
		c.Fields = maps.Clone(e.Fields)
	}
	return c
}
