package entity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentstation/grimoire/pkg/entity"
	"github.com/agentstation/grimoire/pkg/provenance"
)

func TestCloneIsIndependent(t *testing.T) {
	original := entity.CanonicalEntity{
		EntityType: entity.TypeWeapon,
		Name:       "Moonlight Greatsword",
		Provenance: []provenance.Provenance{{Source: "kaggle_base"}},
		Sources:    []string{"kaggle_base"},
		Fields:     map[string]any{"weight": 10.5},
	}

	clone := original.Clone()
	clone.Provenance[0].Source = "changed"
	clone.Sources[0] = "changed"
	clone.Fields["weight"] = 1.0
	clone.Name = "changed"

	assert.Equal(t, "kaggle_base", original.Provenance[0].Source)
	assert.Equal(t, "kaggle_base", original.Sources[0])
	assert.Equal(t, 10.5, original.Fields["weight"])
	assert.Equal(t, "Moonlight Greatsword", original.Name)
	assert.Equal(t, "weapon", entity.TypeWeapon.String())
}
