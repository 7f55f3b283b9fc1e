package provenance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentstation/grimoire/pkg/provenance"
)

func TestKeyIgnoresDescriptiveFields(t *testing.T) {
	at := time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC)
	a := provenance.Provenance{Source: "kaggle_base", URI: "file:///raw/weapons.csv", SHA256: "abc", RetrievedAt: at, Dataset: "weapons"}
	b := provenance.Provenance{Source: "kaggle_base", URI: "file:///raw/weapons.csv", SHA256: "abc", RetrievedAt: at.In(time.FixedZone("X", 3600)), IngestionMode: "full"}

	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "kaggle_base|file:///raw/weapons.csv|abc|2024-06-21T12:00:00Z", a.Key().String())
}

func TestMerge(t *testing.T) {
	base := []provenance.Provenance{
		{Source: "kaggle_base", SHA256: "1"},
		{Source: "kaggle_base", SHA256: "1"},
	}
	incoming := []provenance.Provenance{
		{Source: "kaggle_base", SHA256: "1", Dataset: "ignored"},
		{Source: "kaggle_dlc", SHA256: "2"},
		{Source: "kaggle_base", SHA256: "3"},
	}

	merged := provenance.Merge(base, incoming...)

	assert.Len(t, merged, 3)
	assert.Equal(t, "1", merged[0].SHA256)
	assert.Equal(t, "", merged[0].Dataset, "first seen record is kept")
	assert.Equal(t, "kaggle_dlc", merged[1].Source)
	assert.Equal(t, "3", merged[2].SHA256)
	assert.Len(t, base, 2, "base is not modified")
}

func TestSources(t *testing.T) {
	list := []provenance.Provenance{
		{Source: "kaggle_dlc"},
		{Source: ""},
		{Source: "fextralife"},
		{Source: "kaggle_dlc", SHA256: "x"},
	}
	assert.Equal(t, []string{"fextralife", "kaggle_dlc"}, provenance.Sources(list))
	assert.Empty(t, provenance.Sources(nil))
}

func TestContainsAndClone(t *testing.T) {
	p := provenance.Provenance{Source: "wiki", URI: "https://example.test/a"}
	list := []provenance.Provenance{p}

	assert.True(t, provenance.Contains(list, provenance.Provenance{Source: "wiki", URI: "https://example.test/a", Dataset: "x"}))
	assert.False(t, provenance.Contains(list, provenance.Provenance{Source: "wiki"}))

	clone := provenance.Clone(list)
	clone[0].Source = "changed"
	assert.Equal(t, "wiki", list[0].Source)
	assert.Nil(t, provenance.Clone(nil))
}
