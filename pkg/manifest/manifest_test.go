package manifest_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/grimoire/pkg/errors"
	"github.com/agentstation/grimoire/pkg/manifest"
)

func TestBuildSignatureDeterministic(t *testing.T) {
	a := manifest.BuildSignature("weapons", "weapons", "moonlight-greatsword", "raw/weapons.csv")
	b := manifest.BuildSignature("weapons", "weapons", "moonlight-greatsword", "raw/weapons.csv")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, manifest.BuildSignature("weapons", "weapons", "moonlight-greatsword", "raw/dlc.csv"))
	assert.NotEqual(t, a, manifest.BuildSignature("armor", "weapons", "moonlight-greatsword", "raw/weapons.csv"))

	sum := sha256.Sum256([]byte("ds|a|b"))
	assert.Equal(t, hex.EncodeToString(sum[:]), manifest.BuildSignature("ds", "a", "b"))
}

func TestShouldSkipRoundTrip(t *testing.T) {
	m := manifest.New(filepath.Join(t.TempDir(), "m.json"))
	sig := manifest.BuildSignature("bosses", "radahn")

	assert.False(t, m.ShouldSkip("bosses", sig, nil))
	assert.True(t, m.ShouldProcess("bosses", sig, nil))

	m.RecordSignature("bosses", sig, time.Time{})
	assert.True(t, m.ShouldSkip("bosses", sig, nil))
	assert.False(t, m.ShouldProcess("bosses", sig, nil))

	assert.False(t, m.ShouldSkip("other", sig, nil))
}

func TestSinceCutoffScenario(t *testing.T) {
	m := manifest.New(filepath.Join(t.TempDir(), "m.json"))
	sig := manifest.BuildSignature("weapons", "uchigatana")
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, m.ShouldSkip("weapons", sig, nil))
	m.RecordSignature("weapons", sig, t0)

	before := t0.Add(-time.Second)
	after := t0.Add(time.Second)
	assert.False(t, m.ShouldSkip("weapons", sig, &before))
	assert.True(t, m.ShouldSkip("weapons", sig, &after))
	assert.False(t, m.ShouldSkip("weapons", sig, &t0), "equal to the cutoff is not before it")
}

func TestRecordSignatureUpdatesMarkers(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	m := manifest.New("", manifest.WithClock(func() time.Time { return now }))
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("x", 3600))

	m.RecordSignature("items", "sig", t0)
	m.RecordSignature("items", "sig", t0)

	ds, ok := m.Dataset("items")
	require.True(t, ok)
	assert.Len(t, ds.Records, 1)
	assert.Equal(t, "2023-12-31T23:00:00Z", ds.Records["sig"])
	assert.Equal(t, "2023-12-31T23:00:00Z", ds.LastRecorded)
	assert.Equal(t, "2025-01-02T03:04:05Z", m.UpdatedAt())
}

func TestFileHashes(t *testing.T) {
	m := manifest.New("")
	assert.True(t, m.FileChanged("weapons", "weapons.csv", "abc"))

	m.UpdateFileHash("weapons", "weapons.csv", "abc")
	assert.False(t, m.FileChanged("weapons", "weapons.csv", "abc"))
	assert.True(t, m.FileChanged("weapons", "weapons.csv", "def"))

	sha, ok := m.FileHash("weapons", "weapons.csv")
	require.True(t, ok)
	assert.Equal(t, "abc", sha)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "ingest_manifest.json")
	t0 := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	m := manifest.New(path, manifest.WithClock(func() time.Time { return t0 }))
	m.RecordSignature("weapons", "b-sig", t0)
	m.RecordSignature("weapons", "a-sig", t0)
	m.UpdateFileHash("weapons", "weapons.csv", "cafe")
	require.NoError(t, m.Save(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := `{
  "datasets": {
    "weapons": {
      "file_hashes": {
        "weapons.csv": "cafe"
      },
      "last_recorded": "2024-05-06T07:08:09Z",
      "records": {
        "a-sig": "2024-05-06T07:08:09Z",
        "b-sig": "2024-05-06T07:08:09Z"
      }
    }
  },
  "updated_at": "2024-05-06T07:08:09Z",
  "version": 1
}
`
	assert.Equal(t, want, string(data))

	loaded, err := manifest.Load(ctx, path)
	require.NoError(t, err)
	assert.True(t, loaded.ShouldSkip("weapons", "a-sig", nil))
	assert.False(t, loaded.FileChanged("weapons", "weapons.csv", "cafe"))
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	m, err := manifest.Load(context.Background(), filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, m.Datasets())
}

func TestLoadMalformedIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := manifest.Load(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.IsMalformed(err))

	var me *errors.ManifestError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, path, me.Path)
}

func TestUnparseableRecordedTimestampIsNotSkippedWithCutoff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"datasets":{"d":{"records":{"s":"yesterday"}}}}`), 0o644))

	m, err := manifest.Load(context.Background(), path)
	require.NoError(t, err)
	since := time.Now()
	assert.True(t, m.ShouldSkip("d", "s", nil))
	assert.False(t, m.ShouldSkip("d", "s", &since))
}

func TestReadOnlySaveIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.json")
	m := manifest.New(path, manifest.WithReadOnly())
	m.RecordSignature("d", "s", time.Time{})

	require.NoError(t, m.Save(context.Background()))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, m.ReadOnly())
}

func TestConcurrentRecording(t *testing.T) {
	m := manifest.New("")
	var wg sync.WaitGroup
	for _, ds := range []string{"weapons", "armor", "bosses", "items"} {
		wg.Add(1)
		go func(ds string) {
			defer wg.Done()
			for i := range 100 {
				m.RecordSignature(ds, manifest.BuildSignature(ds, string(rune('a'+i%26)), ds), time.Time{})
				m.UpdateFileHash(ds, "file", "sha")
			}
		}(ds)
	}
	wg.Wait()
	assert.Len(t, m.Datasets(), 4)
}

func TestParseSince(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-01T12:00:00Z", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"2024-03-01T13:00:00+01:00", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"2024-03-01T12:00:00", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := manifest.ParseSince(tc.in)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, tc.want.Equal(*got))
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	got, err := manifest.ParseSince("  ")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = manifest.ParseSince("last tuesday")
	assert.Error(t, err)
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	sha, err := manifest.HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sha)

	_, err = manifest.HashFile(filepath.Join(t.TempDir(), "nope"))
	assert.True(t, errors.IsNotFound(err))
}
