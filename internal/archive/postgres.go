package archive

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/flowmesh/jobbroker/internal/config"
	"github.com/flowmesh/jobbroker/internal/jobmodel"
)

// postgresExporter mirrors archived jobs into a Postgres table, grounded on
// the teacher's internal/job-budgeting aggregator's database/sql-plus-pq
// usage, narrowed from a buffered periodic flush down to a direct batch
// insert since the archive run already batches its candidates.
type postgresExporter struct {
	db    *sql.DB
	table string
}

func newPostgresExporter(cfg config.ArchivePostgres) (*postgresExporter, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &postgresExporter{db: db, table: cfg.Table}, nil
}

func (e *postgresExporter) Name() string { return "postgres" }

func (e *postgresExporter) Export(ctx context.Context, jobs []jobmodel.Job) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (job_id, service_required, status, priority, customer_id, workflow_id, retry_count, created_at, completed_at, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id) DO NOTHING
	`, e.table)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, j := range jobs {
		record, err := j.Marshal()
		if err != nil {
			return fmt.Errorf("marshal job %s: %w", j.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			j.ID, j.ServiceRequired, string(j.Status), j.Priority, j.CustomerID, j.WorkflowID, j.RetryCount,
			j.CreatedAt, j.CompletedAt, record,
		); err != nil {
			return fmt.Errorf("insert job %s: %w", j.ID, err)
		}
	}
	return tx.Commit()
}
