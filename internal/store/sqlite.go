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
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/scarablabs/scarab/internal/models"

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
	// "database is locked" errors when webhook requests and pipeline workers
	// write concurrently.
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

// --- Repos ---

func (s *SQLiteStore) CreateRepo(ctx context.Context, r *models.Repo) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repos (id, repo_url, owner_wallet, category, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RepoURL, r.OwnerWallet, r.Category, r.Description, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create repo: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRepo(ctx context.Context, id string) (*models.Repo, error) {
	r := &models.Repo{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, repo_url, owner_wallet, category, description, created_at, updated_at
		FROM repos WHERE id = ?`, id,
	).Scan(&r.ID, &r.RepoURL, &r.OwnerWallet, &r.Category, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repo not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get repo: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) GetRepoByURL(ctx context.Context, repoURL string) (*models.Repo, error) {
	r := &models.Repo{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, repo_url, owner_wallet, category, description, created_at, updated_at
		FROM repos WHERE repo_url = ?`, repoURL,
	).Scan(&r.ID, &r.RepoURL, &r.OwnerWallet, &r.Category, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repo not found: %s", repoURL)
	}
	if err != nil {
		return nil, fmt.Errorf("get repo by url: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRepos(ctx context.Context) ([]*models.Repo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repo_url, owner_wallet, category, description, created_at, updated_at
		FROM repos ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []*models.Repo
	for rows.Next() {
		r := &models.Repo{}
		if err := rows.Scan(&r.ID, &r.RepoURL, &r.OwnerWallet, &r.Category, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan repo: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (s *SQLiteStore) DeleteRepo(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM repos WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete repo: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("repo not found: %s", id)
	}
	return nil
}

// --- Submissions ---

func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	if sub.ID == "" {
		sub.ID = newULID()
	}
	if sub.Status == "" {
		sub.Status = models.SubmissionStatusJudging
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, repo_id, github_issue_id, issue_title, issue_body, submitter_wallet, status, verdict, severity, bounty_amount, ai_reason, tx_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.RepoID, sub.GitHubIssueID, sub.IssueTitle, sub.IssueBody, sub.SubmitterWallet,
		string(sub.Status), string(sub.Verdict), string(sub.Severity), sub.BountyAmount.String(),
		sub.AIReason, sub.TxHash, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, repo_id, github_issue_id, issue_title, issue_body, submitter_wallet, status, verdict, severity, bounty_amount, ai_reason, tx_hash, created_at, updated_at
		FROM submissions WHERE id = ?`, id)

	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("submission not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, filter SubmissionListFilter) ([]*models.Submission, error) {
	query := `SELECT id, repo_id, github_issue_id, issue_title, issue_body, submitter_wallet, status, verdict, severity, bounty_amount, ai_reason, tx_hash, created_at, updated_at FROM submissions`
	var conditions []string
	var args []any

	if filter.RepoID != "" {
		conditions = append(conditions, "repo_id = ?")
		args = append(args, filter.RepoID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []*models.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStore) UpdateSubmission(ctx context.Context, sub *models.Submission) error {
	sub.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status=?, verdict=?, severity=?, bounty_amount=?, ai_reason=?, tx_hash=?, updated_at=?
		WHERE id=?`,
		string(sub.Status), string(sub.Verdict), string(sub.Severity), sub.BountyAmount.String(),
		sub.AIReason, sub.TxHash, sub.UpdatedAt, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("submission not found: %s", sub.ID)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanSubmission.
type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (*models.Submission, error) {
	sub := &models.Submission{}
	var status, verdict, severity, amount string

	err := row.Scan(&sub.ID, &sub.RepoID, &sub.GitHubIssueID, &sub.IssueTitle, &sub.IssueBody,
		&sub.SubmitterWallet, &status, &verdict, &severity, &amount,
		&sub.AIReason, &sub.TxHash, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sub.Status = models.SubmissionStatus(status)
	sub.Verdict = models.Verdict(verdict)
	sub.Severity = models.Severity(severity)
	sub.BountyAmount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse bounty amount %q: %w", amount, err)
	}
	return sub, nil
}
