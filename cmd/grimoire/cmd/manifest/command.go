// Package manifest provides the manifest command implementation.
package manifest

import (
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/grimoire/internal/appcontext"
	"github.com/agentstation/grimoire/internal/lock"
	"github.com/agentstation/grimoire/pkg/manifest"
	"github.com/agentstation/grimoire/pkg/save"
)

// NewCommand creates the manifest command group.
func NewCommand(app appcontext.Interface) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "manifest",
		GroupID: "management",
		Short:   "Inspect and edit the incremental ingestion manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newStatusCommand(app))
	cmd.AddCommand(newCheckCommand(app))
	cmd.AddCommand(newRecordCommand(app))
	return cmd
}

// DatasetStatus summarizes one dataset of the manifest.
type DatasetStatus struct {
	Dataset      string `json:"dataset"`
	Records      int    `json:"records"`
	Files        int    `json:"files"`
	LastRecorded string `json:"last_recorded,omitempty"`
}

// Status is the output of manifest status.
type Status struct {
	Path      string          `json:"path"`
	UpdatedAt string          `json:"updated_at,omitempty"`
	Datasets  []DatasetStatus `json:"datasets"`
}

func newStatusCommand(app appcontext.Interface) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recorded datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := app.Config().ManifestPath
			m, err := manifest.Load(cmd.Context(), path, manifest.WithReadOnly())
			if err != nil {
				return err
			}

			status := Status{Path: path, UpdatedAt: m.UpdatedAt(), Datasets: []DatasetStatus{}}
			keys := m.Datasets()
			slices.Sort(keys)
			for _, key := range keys {
				ds, _ := m.Dataset(key)
				status.Datasets = append(status.Datasets, DatasetStatus{
					Dataset:      key,
					Records:      len(ds.Records),
					Files:        len(ds.FileHashes),
					LastRecorded: ds.LastRecorded,
				})
			}
			return save.Write(status, save.WithWriter(cmd.OutOrStdout()))
		},
	}
}

// Decision is the output of manifest check and record.
type Decision struct {
	Dataset   string `json:"dataset"`
	Signature string `json:"signature"`
	Process   bool   `json:"process"`
}

func newCheckCommand(app appcontext.Interface) *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "check <dataset> <part>...",
		Short: "Report whether a record signature still needs processing",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cutoff, err := manifest.ParseSince(since)
			if err != nil {
				return err
			}
			m, err := manifest.Load(cmd.Context(), app.Config().ManifestPath, manifest.WithReadOnly())
			if err != nil {
				return err
			}
			sig := manifest.BuildSignature(args[0], args[1:]...)
			return save.Write(Decision{
				Dataset:   args[0],
				Signature: sig,
				Process:   m.ShouldProcess(args[0], sig, cutoff),
			}, save.WithWriter(cmd.OutOrStdout()))
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "treat records recorded at or after this ISO-8601 time as unprocessed")
	return cmd
}

func newRecordCommand(app appcontext.Interface) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "record <dataset> <part>...",
		Short: "Mark a record signature as processed",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config()
			ts, err := manifest.ParseSince(at)
			if err != nil {
				return err
			}

			l, err := lock.Acquire(cfg.ProcessedDir)
			if err != nil {
				return err
			}
			defer func() { _ = l.Release() }()

			m, err := manifest.Load(cmd.Context(), cfg.ManifestPath)
			if err != nil {
				return err
			}
			sig := manifest.BuildSignature(args[0], args[1:]...)
			var recordAt time.Time
			if ts != nil {
				recordAt = *ts
			}
			m.RecordSignature(args[0], sig, recordAt)
			if err := m.Save(cmd.Context()); err != nil {
				return err
			}
			return save.Write(Decision{Dataset: args[0], Signature: sig}, save.WithWriter(cmd.OutOrStdout()))
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "timestamp to record (default now)")
	return cmd
}
