package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markbook/markbook/pkg/types"
)

// snapshotTx is the isolation every pass reads under.
var snapshotTx = pgx.TxOptions{
	IsoLevel:   pgx.RepeatableRead,
	AccessMode: pgx.ReadOnly,
}

// Postgres reads records from the school database.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects a pool to dsn and verifies it with a ping.
func Open(ctx context.Context, dsn string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("source: parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("source: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("source: ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

// Snapshot implements Source.
func (p *Postgres) Snapshot(ctx context.Context, req Request) (*Records, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("source: tenant id is required")
	}
	var rec Records
	err := p.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		if rec.Bands, err = readBands(ctx, tx, req); err != nil {
			return fmt.Errorf("grade bands: %w", err)
		}
		if !req.Scope.Whole() {
			if rec.Students, err = readMembers(ctx, tx, req); err != nil {
				return fmt.Errorf("scope %s: %w", req.Scope, err)
			}
		}
		if rec.Results, err = readResults(ctx, tx, req); err != nil {
			return fmt.Errorf("exam results: %w", err)
		}
		if rec.Attendance, err = readAttendance(ctx, tx, req); err != nil {
			return fmt.Errorf("attendance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source: tenant %s: %w", req.TenantID, err)
	}
	return &rec, nil
}

func (p *Postgres) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, snapshotTx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	// Read-only: rollback is the normal way out.
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func readBands(ctx context.Context, tx pgx.Tx, req Request) ([]types.GradeBand, error) {
	sql, args := bandsQuery(req)
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.GradeBand, error) {
		var b types.GradeBand
		err := row.Scan(&b.Grade, &b.MinPercentage, &b.MaxPercentage, &b.GradePoint)
		return b, err
	})
}

func readMembers(ctx context.Context, tx pgx.Tx, req Request) ([]string, error) {
	sql, args := membersQuery(req)
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func readResults(ctx context.Context, tx pgx.Tx, req Request) ([]types.ExamResultInput, error) {
	sql, args := resultsQuery(req)
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ExamResultInput, error) {
		var r types.ExamResultInput
		err := row.Scan(&r.StudentID, &r.ExamID, &r.SubjectID, &r.MarksObtained, &r.MaxMarks)
		return r, err
	})
}

func readAttendance(ctx context.Context, tx pgx.Tx, req Request) ([]types.AttendanceEvent, error) {
	sql, args := attendanceQuery(req)
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.AttendanceEvent, error) {
		var (
			ev      types.AttendanceEvent
			subject *string
			status  string
		)
		if err := row.Scan(&ev.StudentID, &subject, &ev.Date, &status); err != nil {
			return ev, err
		}
		if subject != nil {
			ev.SubjectID = *subject
		}
		st, err := types.ParseAttendanceStatus(status)
		if err != nil {
			var ie *types.InputError
			if errors.As(err, &ie) {
				ie.Ref = ev.StudentID + "@" + ev.Date.Format(time.DateOnly)
			}
			return ev, err
		}
		ev.Status = st
		return ev, nil
	})
}

func bandsQuery(req Request) (string, []any) {
	return `SELECT grade, min_percentage, max_percentage, grade_point
		FROM grade_bands
		WHERE tenant_id = $1
		ORDER BY min_percentage DESC, id`, []any{req.TenantID}
}

func membersQuery(req Request) (string, []any) {
	filter, args := req.Scope.studentFilter(2)
	return `SELECT st.id FROM students st
		WHERE st.tenant_id = $1 AND ` + filter + `
		ORDER BY st.id`, append([]any{req.TenantID}, args...)
}

// resultsQuery selects whole exam×subject groups: under a narrower scope a
// group is included in full when any in-scope student has a row in it.
// Absentees are stored with a NULL marks_obtained.
func resultsQuery(req Request) (string, []any) {
	args := []any{req.TenantID}
	where := "r.tenant_id = $1"
	if req.AcademicYear != "" {
		args = append(args, req.AcademicYear)
		where += " AND e.academic_year = $" + strconv.Itoa(len(args))
	}
	if !req.Scope.Whole() {
		filter, fargs := req.Scope.studentFilter(len(args) + 1)
		args = append(args, fargs...)
		where += ` AND (r.exam_id, r.subject_id) IN (
			SELECT g.exam_id, g.subject_id
			FROM exam_results g
			JOIN students st ON st.id = g.student_id AND st.tenant_id = g.tenant_id
			WHERE g.tenant_id = $1 AND ` + filter + `)`
	}

	return `SELECT r.student_id, r.exam_id, r.subject_id, r.marks_obtained, r.max_marks
		FROM exam_results r
		JOIN exams e ON e.id = r.exam_id AND e.tenant_id = r.tenant_id
		WHERE ` + where + `
		ORDER BY r.exam_id, r.subject_id, r.student_id`, args
}

func attendanceQuery(req Request) (string, []any) {
	args := []any{req.TenantID}
	where := "a.tenant_id = $1"
	if !req.From.IsZero() {
		args = append(args, req.From)
		where += " AND a.date >= $" + strconv.Itoa(len(args)) + "::date"
	}
	if !req.To.IsZero() {
		args = append(args, req.To)
		where += " AND a.date <= $" + strconv.Itoa(len(args)) + "::date"
	}
	filter, fargs := req.Scope.studentFilter(len(args) + 1)
	args = append(args, fargs...)

	return `SELECT a.student_id, a.subject_id, a.date, a.status
		FROM attendance a
		JOIN students st ON st.id = a.student_id AND st.tenant_id = a.tenant_id
		WHERE ` + where + ` AND ` + filter + `
		ORDER BY a.student_id, a.date`, args
}
