package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

const (
	traceColumns = `id, name, status, agent_id, root_span_id, start_time, end_time, duration_ms, span_count`
	spanColumns  = `id, trace_id, parent_id, name, kind, status, input, output, error, model, attributes, start_time, end_time, duration_ms`

	upsertTrace = `INSERT INTO traces (` + traceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status      = excluded.status,
			agent_id    = excluded.agent_id,
			end_time    = excluded.end_time,
			duration_ms = excluded.duration_ms,
			span_count  = excluded.span_count`

	upsertSpan = `INSERT INTO spans (` + spanColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status      = excluded.status,
			output      = excluded.output,
			error       = excluded.error,
			end_time    = excluded.end_time,
			duration_ms = excluded.duration_ms`
)

// SaveTrace writes a trace and its spans in one transaction. Saving the
// same trace again updates the mutable columns.
func (r *Repository) SaveTrace(ctx context.Context, trace *domain.Trace) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, upsertTrace,
		string(trace.ID), trace.Name, string(trace.Status), string(trace.AgentID), string(trace.RootSpanID),
		trace.StartTime, trace.EndTime, trace.DurationMs, trace.SpanCount,
	); err != nil {
		return fmt.Errorf("upsert trace %s: %w", trace.ID, err)
	}

	for _, s := range trace.Spans {
		attrs, err := json.Marshal(s.Attributes)
		if err != nil {
			return fmt.Errorf("encode span %s attributes: %w", s.ID, err)
		}
		if _, err := tx.ExecContext(ctx, upsertSpan,
			string(s.ID), string(s.TraceID), string(s.ParentID), s.Name, string(s.Kind), string(s.Status),
			s.Input, s.Output, s.Error, s.Model, string(attrs), s.StartTime, s.EndTime, s.DurationMs,
		); err != nil {
			return fmt.Errorf("upsert span %s: %w", s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trace %s: %w", trace.ID, err)
	}
	return nil
}

// ListTraces returns the most recent trace summaries, newest first.
func (r *Repository) ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+traceColumns+` FROM traces ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	out := []domain.TraceSummary{}
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		out = append(out, domain.TraceSummary{
			ID:         t.ID,
			Name:       t.Name,
			AgentID:    t.AgentID,
			Status:     t.Status,
			StartTime:  t.StartTime,
			DurationMs: t.DurationMs,
			SpanCount:  t.SpanCount,
		})
	}
	return out, rows.Err()
}

// GetTrace loads a trace with its spans. Span children are rebuilt from
// parent ids.
func (r *Repository) GetTrace(ctx context.Context, id domain.TraceID) (*domain.Trace, error) {
	t, err := scanTrace(r.db.QueryRowContext(ctx, `SELECT `+traceColumns+` FROM traces WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTraceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get trace: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+spanColumns+` FROM spans WHERE trace_id = ? ORDER BY start_time ASC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("load spans: %w", err)
	}
	defer rows.Close()

	index := map[domain.SpanID]int{}
	for rows.Next() {
		s, err := scanSpan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan span: %w", err)
		}
		index[s.ID] = len(t.Spans)
		t.Spans = append(t.Spans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load spans: %w", err)
	}

	for _, s := range t.Spans {
		if i, ok := index[s.ParentID]; ok {
			t.Spans[i].Children = append(t.Spans[i].Children, s.ID)
		}
	}
	return t, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTrace(row scanner) (*domain.Trace, error) {
	var (
		t                domain.Trace
		id, status, root string
		agentID          sql.NullString
		durationMs       sql.NullInt64
		spanCount        sql.NullInt64
	)
	if err := row.Scan(&id, &t.Name, &status, &agentID, &root, &t.StartTime, &t.EndTime, &durationMs, &spanCount); err != nil {
		return nil, err
	}
	t.ID = domain.TraceID(id)
	t.Status = domain.SpanStatus(status)
	t.AgentID = domain.AgentID(agentID.String)
	t.RootSpanID = domain.SpanID(root)
	t.DurationMs = durationMs.Int64
	t.SpanCount = int(spanCount.Int64)
	return &t, nil
}

func scanSpan(row scanner) (domain.Span, error) {
	var (
		s                                      domain.Span
		id, traceID, kind, status              string
		parentID, input, output, errMsg, model sql.NullString
		attrs                                  sql.NullString
		durationMs                             sql.NullInt64
	)
	if err := row.Scan(&id, &traceID, &parentID, &s.Name, &kind, &status,
		&input, &output, &errMsg, &model, &attrs, &s.StartTime, &s.EndTime, &durationMs); err != nil {
		return s, err
	}
	s.ID = domain.SpanID(id)
	s.TraceID = domain.TraceID(traceID)
	s.ParentID = domain.SpanID(parentID.String)
	s.Kind = domain.SpanKind(kind)
	s.Status = domain.SpanStatus(status)
	s.Input = input.String
	s.Output = output.String
	s.Error = errMsg.String
	s.Model = model.String
	s.DurationMs = durationMs.Int64
	if attrs.Valid && attrs.String != "" && attrs.String != "null" {
		if err := json.Unmarshal([]byte(attrs.String), &s.Attributes); err != nil {
			return s, fmt.Errorf("decode span %s attributes: %w", id, err)
		}
	}
	return s, nil
}
