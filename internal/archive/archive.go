// Package archive implements the archive operation: terminal jobs older
// than a configured age are removed from hot storage and written to a
// durable partition, optionally mirrored to S3 and/or Postgres. Grounded on
// the teacher's internal/long-term-archives exporter family, generalized
// from a generic export pipeline down to this broker's job record shape.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/flowmesh/jobbroker/internal/config"
	"github.com/flowmesh/jobbroker/internal/jobmodel"
	"github.com/flowmesh/jobbroker/internal/obs"
	"github.com/flowmesh/jobbroker/internal/store"
)

// Exporter receives a batch of terminal jobs to persist durably. Local,
// S3, and Postgres sinks all implement this.
type Exporter interface {
	Export(ctx context.Context, jobs []jobmodel.Job) error
	Name() string
}

// Archiver runs the archive operation against the store, writing matched
// jobs to every configured exporter before deleting them from hot storage.
type Archiver struct {
	cfg       config.Archive
	store     *store.Store
	log       *zap.Logger
	exporters []Exporter
}

// New constructs an Archiver with a local filesystem exporter always
// enabled, plus S3/Postgres exporters when their configuration sections
// are enabled.
func New(cfg config.Archive, st *store.Store, log *zap.Logger) (*Archiver, error) {
	exporters := []Exporter{newLocalExporter(cfg.Dir)}
	if cfg.S3.Enabled {
		s3exp, err := newS3Exporter(cfg.S3, log)
		if err != nil {
			return nil, fmt.Errorf("init s3 exporter: %w", err)
		}
		exporters = append(exporters, s3exp)
	}
	if cfg.Postgres.Enabled {
		pgExp, err := newPostgresExporter(cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("init postgres exporter: %w", err)
		}
		exporters = append(exporters, pgExp)
	}
	return &Archiver{cfg: cfg, store: st, log: log, exporters: exporters}, nil
}

// Run archives every terminal job older than cfg.OlderThan, enumerated
// from the store's completed/failed/cancelled index sets, writing to each
// configured exporter and then deleting the job's hot-storage record and
// progress log.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	candidateIDs, err := a.store.ArchiveCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list archive candidates: %w", err)
	}
	cutoff := time.Now().Add(-a.cfg.OlderThan)
	batch := make([]jobmodel.Job, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		job, err := a.store.GetJob(ctx, id)
		if err != nil {
			continue
		}
		if !isTerminal(job.Status) {
			continue
		}
		if job.CompletedAt == nil || job.CompletedAt.After(cutoff) {
			continue
		}
		batch = append(batch, job)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	for _, exp := range a.exporters {
		if err := exp.Export(ctx, batch); err != nil {
			return 0, fmt.Errorf("export via %s: %w", exp.Name(), err)
		}
	}

	for _, job := range batch {
		if err := a.store.DeleteArchived(ctx, job.ID); err != nil {
			a.log.Warn("delete archived job from hot storage", zap.Error(err), zap.String("job_id", job.ID))
			continue
		}
		obs.JobsArchived.Inc()
	}
	return len(batch), nil
}

func isTerminal(s jobmodel.Status) bool {
	switch s {
	case jobmodel.StatusCompleted, jobmodel.StatusFailed, jobmodel.StatusCancelled:
		return true
	default:
		return false
	}
}

// localExporter writes one JSON-lines file per UTC day partition under
// dir/<status>/<date>.jsonl, the simplest durable sink and the one always
// enabled regardless of S3/Postgres configuration.
type localExporter struct{ dir string }

func newLocalExporter(dir string) *localExporter { return &localExporter{dir: dir} }

func (e *localExporter) Name() string { return "local" }

func (e *localExporter) Export(ctx context.Context, jobs []jobmodel.Job) error {
	byPartition := map[string][]jobmodel.Job{}
	for _, j := range jobs {
		date := j.CreatedAt.UTC().Format("2006-01-02")
		key := filepath.Join(string(j.Status), date)
		byPartition[key] = append(byPartition[key], j)
	}
	for partition, partJobs := range byPartition {
		dir := filepath.Join(e.dir, filepath.Dir(partition))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
		path := filepath.Join(e.dir, partition+".jsonl")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		for _, j := range partJobs {
			b, err := json.Marshal(j)
			if err != nil {
				_ = f.Close()
				return err
			}
			if _, err := f.Write(append(b, '\n')); err != nil {
				_ = f.Close()
				return err
			}
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
