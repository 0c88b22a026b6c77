package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/courseforge/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single connection
	// serializes all DB access through Go's connection pool, preventing
	// "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = newULID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, machine_id, machine_name, host, target, status, failed_stage, message, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.MachineID, run.MachineName, run.Host, string(run.Target), string(run.Status),
		string(run.FailedStage), run.Message, run.StartedAt.UTC(), nullTime(run.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	if err := writeStages(ctx, tx, run); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateRun replaces the run row and its stage results.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE runs SET machine_id=?, machine_name=?, host=?, target=?, status=?, failed_stage=?, message=?, ended_at=?
		WHERE id=?`,
		run.MachineID, run.MachineName, run.Host, string(run.Target), string(run.Status),
		string(run.FailedStage), run.Message, nullTime(run.EndedAt), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM stage_results WHERE run_id = ?", run.ID); err != nil {
		return fmt.Errorf("clear stage results: %w", err)
	}
	if err := writeStages(ctx, tx, run); err != nil {
		return err
	}
	return tx.Commit()
}

func writeStages(ctx context.Context, tx *sql.Tx, run *models.Run) error {
	for i, st := range run.Stages {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO stage_results (run_id, seq, stage, ok, message, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, i, string(st.Stage), st.OK, st.Message, st.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("record stage %s: %w", st.Stage, err)
		}
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

const runColumns = `id, machine_id, machine_name, host, target, status, failed_stage, message, started_at, ended_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	run := &models.Run{}
	var target, status, failed string
	var endedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.MachineID, &run.MachineName, &run.Host, &target, &status, &failed, &run.Message, &run.StartedAt, &endedAt); err != nil {
		return nil, err
	}
	run.Target = models.Target(target)
	run.Status = models.RunStatus(status)
	run.FailedStage = models.Stage(failed)
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if err := s.loadStages(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) loadStages(ctx context.Context, run *models.Run) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, ok, message, duration_ms FROM stage_results WHERE run_id = ? ORDER BY seq`, run.ID)
	if err != nil {
		return fmt.Errorf("list stage results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	run.Stages = nil
	for rows.Next() {
		var st models.StageResult
		var stage string
		var ms int64
		if err := rows.Scan(&stage, &st.OK, &st.Message, &ms); err != nil {
			return fmt.Errorf("scan stage result: %w", err)
		}
		st.Stage = models.Stage(stage)
		st.Duration = time.Duration(ms) * time.Millisecond
		run.Stages = append(run.Stages, st)
	}
	return rows.Err()
}

// ListRuns returns runs newest first, with their stage results.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunListFilter) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filter.MachineID != "" {
		query += " AND machine_id = ?"
		args = append(args, filter.MachineID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	// Stage rows are loaded after the cursor closes; the pool has a single connection.
	for _, run := range runs {
		if err := s.loadStages(ctx, run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// --- Courses ---

// UpsertCourse inserts a course or updates the one with the same directory.
// Zero-valued fields of c do not overwrite stored values.
func (s *SQLiteStore) UpsertCourse(ctx context.Context, c *models.Course) error {
	existing, err := s.courseByDir(ctx, c.Dir)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if existing == nil {
		if c.ID == "" {
			c.ID = newULID()
		}
		c.CreatedAt = now
		c.UpdatedAt = now
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO courses (id, title, students, chapters, sections, dir, outline_path, section_files, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Title, c.Students, c.Chapters, c.Sections, c.Dir, c.OutlinePath, c.SectionFiles, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("create course: %w", err)
		}
		return nil
	}

	merged := *existing
	if c.Title != "" {
		merged.Title = c.Title
	}
	if c.Students != "" {
		merged.Students = c.Students
	}
	if c.Chapters != 0 {
		merged.Chapters = c.Chapters
	}
	if c.Sections != 0 {
		merged.Sections = c.Sections
	}
	if c.OutlinePath != "" {
		merged.OutlinePath = c.OutlinePath
	}
	if c.SectionFiles != 0 {
		merged.SectionFiles = c.SectionFiles
	}
	merged.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`UPDATE courses SET title=?, students=?, chapters=?, sections=?, outline_path=?, section_files=?, updated_at=?
		WHERE id=?`,
		merged.Title, merged.Students, merged.Chapters, merged.Sections, merged.OutlinePath, merged.SectionFiles, merged.UpdatedAt, merged.ID,
	)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	*c = merged
	return nil
}

const courseColumns = `id, title, students, chapters, sections, dir, outline_path, section_files, created_at, updated_at`

func scanCourse(row scanner) (*models.Course, error) {
	c := &models.Course{}
	err := row.Scan(&c.ID, &c.Title, &c.Students, &c.Chapters, &c.Sections, &c.Dir, &c.OutlinePath, &c.SectionFiles, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *SQLiteStore) courseByDir(ctx context.Context, dir string) (*models.Course, error) {
	c, err := scanCourse(s.db.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE dir = ?`, dir))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get course by dir: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	c, err := scanCourse(s.db.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("course not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return c, nil
}

// ListCourses returns courses most recently updated first.
func (s *SQLiteStore) ListCourses(ctx context.Context, limit int) ([]*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses ORDER BY updated_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var courses []*models.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}
