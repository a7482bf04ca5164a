package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/docparse/internal/common"
)

const resultsTable = "task_results"

var resultColumns = []string{
	"task_id", "batch_id", "source_ref", "filename", "category", "status",
	"quality_score", "page_count", "ocr_used", "error", "envelope",
	"processed_at", "created_at",
}

// Result is one catalog row: the final envelope of a document plus the
// columns it is queried by. Timestamps are stored as unix milliseconds.
type Result struct {
	TaskID       string
	BatchID      string
	SourceRef    string
	Filename     string
	Category     string
	Status       string
	QualityScore float64
	PageCount    int
	OCRUsed      bool
	Error        string
	Envelope     json.RawMessage
	ProcessedAt  time.Time
	CreatedAt    time.Time
}

// Filter narrows List and Count. Zero values match everything.
type Filter struct {
	Category string
	Status   string
	BatchID  string
	Limit    int
	Offset   int
}

type ResultRepository interface {
	EnsureSchema(ctx context.Context) error
	Save(ctx context.Context, r Result) error
	Get(ctx context.Context, taskID string) (*Result, error)
	List(ctx context.Context, f Filter) ([]Result, error)
	Count(ctx context.Context, f Filter) (int, error)
}

type resultRepo struct {
	drv *entsql.Driver
	log *slog.Logger
}

func NewResultRepository(drv *entsql.Driver, log *slog.Logger) ResultRepository {
	if log == nil {
		log = slog.Default()
	}
	return &resultRepo{drv: drv, log: log}
}

func (r *resultRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.drv.Dialect())
}

func dbErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrDatabase, op, err)
}

// schemaDDL is valid for both postgres and sqlite.
var schemaDDL = []struct {
	op   string
	stmt string
}{
	{"create " + resultsTable, `CREATE TABLE IF NOT EXISTS ` + resultsTable + ` (
	task_id varchar(64) NOT NULL PRIMARY KEY,
	batch_id varchar(64) NOT NULL DEFAULT '',
	source_ref text NOT NULL,
	filename text NOT NULL DEFAULT '',
	category varchar(32) NOT NULL DEFAULT '',
	status varchar(16) NOT NULL,
	quality_score double precision NOT NULL DEFAULT 0,
	page_count integer NOT NULL DEFAULT 0,
	ocr_used boolean NOT NULL DEFAULT false,
	error text NOT NULL DEFAULT '',
	envelope text NOT NULL,
	processed_at bigint NOT NULL,
	created_at bigint NOT NULL
)`},
	{"create index", `CREATE INDEX IF NOT EXISTS task_results_category_status ON ` +
		resultsTable + ` (category, status, processed_at)`},
}

// EnsureSchema creates the results table and its lookup index. It is safe to
// call on every start.
func (r *resultRepo) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if err := r.drv.Exec(ctx, ddl.stmt, []any{}, nil); err != nil {
			return dbErr(ddl.op, err)
		}
	}
	return nil
}

// Save inserts r or replaces the row with the same task id.
func (r *resultRepo) Save(ctx context.Context, res Result) error {
	if len(res.Envelope) == 0 {
		res.Envelope = json.RawMessage("{}")
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}
	q, args := r.builder().Insert(resultsTable).
		Columns(resultColumns...).
		Values(
			res.TaskID, res.BatchID, res.SourceRef, res.Filename, res.Category, res.Status,
			res.QualityScore, res.PageCount, res.OCRUsed, res.Error, string(res.Envelope),
			res.ProcessedAt.UnixMilli(), res.CreatedAt.UnixMilli(),
		).
		OnConflict(
			entsql.ConflictColumns("task_id"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if err := r.drv.Exec(ctx, q, args, nil); err != nil {
		r.log.Error("task_result save failed", "task_id", res.TaskID, "err", err)
		return dbErr("save "+res.TaskID, err)
	}
	r.log.Debug("task_result saved", "task_id", res.TaskID, "status", res.Status, "category", res.Category)
	return nil
}

func (r *resultRepo) Get(ctx context.Context, taskID string) (*Result, error) {
	sel := r.builder().Select(resultColumns...).
		From(entsql.Table(resultsTable)).
		Where(entsql.EQ("task_id", taskID))
	out, err := r.query(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, common.NewAppError("RESULT_NOT_FOUND", fmt.Sprintf("no result for task %s", taskID), common.ErrNotFound)
	}
	return &out[0], nil
}

// List returns matching rows, newest first.
func (r *resultRepo) List(ctx context.Context, f Filter) ([]Result, error) {
	sel := r.builder().Select(resultColumns...).From(entsql.Table(resultsTable))
	applyFilter(sel, f)
	sel.OrderBy(entsql.Desc("processed_at"), entsql.Asc("task_id"))
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}
	if f.Offset > 0 {
		sel.Offset(f.Offset)
	}
	return r.query(ctx, sel)
}

func (r *resultRepo) Count(ctx context.Context, f Filter) (int, error) {
	sel := r.builder().Select(entsql.Count("*")).From(entsql.Table(resultsTable))
	applyFilter(sel, f)
	q, args := sel.Query()

	var rows entsql.Rows
	if err := r.drv.Query(ctx, q, args, &rows); err != nil {
		return 0, dbErr("count", err)
	}
	defer rows.Close()
	n := 0
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, dbErr("count", err)
		}
	}
	return n, rows.Err()
}

func applyFilter(sel *entsql.Selector, f Filter) {
	if f.Category != "" {
		sel.Where(entsql.EQ("category", f.Category))
	}
	if f.Status != "" {
		sel.Where(entsql.EQ("status", f.Status))
	}
	if f.BatchID != "" {
		sel.Where(entsql.EQ("batch_id", f.BatchID))
	}
}

func (r *resultRepo) query(ctx context.Context, sel *entsql.Selector) ([]Result, error) {
	q, args := sel.Query()
	var rows entsql.Rows
	if err := r.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, dbErr("query "+resultsTable, err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var (
			res                    Result
			envelope               string
			processedMs, createdMs int64
		)
		if err := rows.Scan(
			&res.TaskID, &res.BatchID, &res.SourceRef, &res.Filename, &res.Category, &res.Status,
			&res.QualityScore, &res.PageCount, &res.OCRUsed, &res.Error, &envelope,
			&processedMs, &createdMs,
		); err != nil {
			return nil, dbErr("scan "+resultsTable, err)
		}
		res.Envelope = json.RawMessage(envelope)
		res.ProcessedAt = time.UnixMilli(processedMs).UTC()
		res.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, res)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, dbErr("iterate "+resultsTable, err)
	}
	return out, nil
}
