// Package constants provides shared constants used throughout the grimoire codebase:
// file permissions, merge defaults and the names of persisted artifacts.
package constants

// File permission constants define standard Unix file permissions
const (
	// DirPermissions is the default permission for created directories (rwxr-xr-x)
	DirPermissions = 0755

	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0644
)

// Merge defaults
const (
	// DefaultPriority is assigned to records whose source_priority is absent or unparseable.
	// Lower numbers win, so unranked sources lose to every ranked one.
	DefaultPriority = 99

	// DefaultFuzzyThreshold is the minimum similarity ratio for attaching a text snippet.
	DefaultFuzzyThreshold = 0.86

	// DescriptionSeparator joins snippet text onto an entity description.
	DescriptionSeparator = "\n\n"
)

// Incremental manifest
const (
	// ManifestVersion is written into every saved manifest.
	ManifestVersion = 1

	// ManifestFileName is the default manifest file inside the processed directory.
	ManifestFileName = "ingest_manifest.json"

	// SignatureSeparator joins the dataset and parts of a record signature.
	SignatureSeparator = "|"
)

// Community store layout, relative to the community directory
const (
	CommunityManifestFileName = "community_manifest.json"
	AuditLogFileName          = "provenance.log"
	ConflictDirName           = "conflicts"
	StateDirName              = "state"
	BundleDirName             = "bundles"

	AnnotationsTable = "annotations"
	RevisionsTable   = "revisions"
	ReferencesTable  = "references"
	SymbolismTable   = "symbolism"
)

// Corpus export
const (
	// CorpusDBFileName is the SQLite export of the reconciled corpus.
	CorpusDBFileName = "corpus.db"

	// CorpusYAMLFileName is the YAML snapshot of the reconciled corpus.
	CorpusYAMLFileName = "corpus.yaml"

	// LockFileName guards a corpus directory against concurrent writers.
	LockFileName = ".grimoire.lock"
)
