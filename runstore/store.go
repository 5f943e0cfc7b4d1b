package runstore

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses recorded in the registry.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusAborted = "aborted"
)

// ErrNotFound is returned when a run id has no registry row.
var ErrNotFound = errors.New("run not found")

// Run is one registered agent run. Dir is the per-run directory that holds
// the event log.
type Run struct {
	ID            string    `json:"id"`
	Dir           string    `json:"dir"`
	RepoPath      string    `json:"repo_path"`
	RepoURL       string    `json:"repo_url,omitempty"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model,omitempty"`
	Task          string    `json:"task"`
	SystemPrompt  string    `json:"system_prompt,omitempty"`
	TruncateLimit int       `json:"truncate_limit,omitempty"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	FinishedAt    time.Time `json:"finished_at,omitzero"`
}

// EventsPath returns the run's JSONL event log path.
func (r Run) EventsPath() string {
	return filepath.Join(r.Dir, "events.jsonl")
}

// Repo is a remembered repository URL or local path.
type Repo struct {
	URL       string    `json:"url"`
	LastUsed  time.Time `json:"last_used"`
	UsedCount int       `json:"used_count"`
}

// maxRepos caps the remembered-repo list; the least recently used entries
// beyond it are pruned on every touch.
const maxRepos = 50

// Store is a SQLite-backed registry of runs and recently used repos. Every
// run owns a directory under the store's base dir.
type Store struct {
	baseDir string
	db      *sql.DB
	mu      sync.RWMutex
}

// Open creates or opens the registry under baseDir. The database lives at
// baseDir/registry.db; per-run directories are created next to it.
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	dbPath := filepath.Join(baseDir, "registry.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{baseDir: baseDir, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("run store opened", "path", dbPath)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			dir TEXT NOT NULL,
			repo_path TEXT NOT NULL,
			repo_url TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			task TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			truncate_limit INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'running',
			reason TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_repo_path ON runs(repo_path)`,
		`CREATE TABLE IF NOT EXISTS repos (
			url TEXT PRIMARY KEY,
			last_used INTEGER NOT NULL,
			used_count INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}

	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// BaseDir returns the directory the store was opened on.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// NewRunID returns a sortable run identifier built from a local timestamp
// and a short random suffix.
func NewRunID() string {
	u := uuid.New()
	return time.Now().Format("20060102-150405") + "-" + hex.EncodeToString(u[:4])
}

// CreateRunParams describes a run to register.
type CreateRunParams struct {
	RepoPath      string
	RepoURL       string
	Provider      string
	Model         string
	Task          string
	SystemPrompt  string
	TruncateLimit int
}

// CreateRun registers a new run with status "running" and creates its
// directory.
func (s *Store) CreateRun(p CreateRunParams) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := NewRunID()
	dir := filepath.Join(s.baseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Run{}, fmt.Errorf("create run dir: %w", err)
	}

	now := time.Now()
	_, err := s.db.Exec(`INSERT INTO runs (id, dir, repo_path, repo_url, provider, model, task, system_prompt, truncate_limit, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, dir, p.RepoPath, p.RepoURL, p.Provider, p.Model, p.Task, p.SystemPrompt, p.TruncateLimit, StatusRunning, now.UnixNano())
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}

	return Run{
		ID:            id,
		Dir:           dir,
		RepoPath:      p.RepoPath,
		RepoURL:       p.RepoURL,
		Provider:      p.Provider,
		Model:         p.Model,
		Task:          p.Task,
		SystemPrompt:  p.SystemPrompt,
		TruncateLimit: p.TruncateLimit,
		Status:        StatusRunning,
		CreatedAt:     now,
	}, nil
}

const runColumns = `id, dir, repo_path, repo_url, provider, model, task, system_prompt, truncate_limit, status, reason, created_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var created, finished int64
	err := row.Scan(&r.ID, &r.Dir, &r.RepoPath, &r.RepoURL, &r.Provider, &r.Model, &r.Task,
		&r.SystemPrompt, &r.TruncateLimit, &r.Status, &r.Reason, &created, &finished)
	if err != nil {
		return Run{}, err
	}
	r.CreatedAt = time.Unix(0, created)
	if finished > 0 {
		r.FinishedAt = time.Unix(0, finished)
	}
	return r, nil
}

// Get returns the run with the given id, or ErrNotFound.
func (s *Store) Get(id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// List returns all runs, newest first.
func (s *Store) List() ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			continue
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Finish records a run's final status and reason.
func (s *Store) Finish(id, status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE runs SET status = ?, reason = ?, finished_at = ? WHERE id = ?`,
		status, reason, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the run's registry row. The caller is responsible for
// removing the run directory.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// RepoPathReferenced reports whether any run other than excludeID uses the
// given working tree.
func (s *Store) RepoPathReferenced(repoPath, excludeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE repo_path = ? AND id != ?`, repoPath, excludeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count repo refs: %w", err)
	}
	return n > 0, nil
}

// TouchRepo records a use of the repository URL or local path, bumping its
// last_used time and use count, then prunes the list to the most recently
// used entries.
func (s *Store) TouchRepo(url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO repos (url, last_used, used_count) VALUES (?, ?, 1)
		ON CONFLICT(url) DO UPDATE SET last_used = excluded.last_used, used_count = used_count + 1`,
		url, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("touch repo: %w", err)
	}

	_, err = s.db.Exec(`DELETE FROM repos WHERE url NOT IN (
		SELECT url FROM repos ORDER BY last_used DESC LIMIT ?)`, maxRepos)
	if err != nil {
		return fmt.Errorf("prune repos: %w", err)
	}
	return nil
}

// ListRepos returns remembered repositories, most recently used first.
func (s *Store) ListRepos() ([]Repo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT url, last_used, used_count FROM repos ORDER BY last_used DESC LIMIT ?`, maxRepos)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer rows.Close()

	var repos []Repo
	for rows.Next() {
		var rp Repo
		var used int64
		if err := rows.Scan(&rp.URL, &used, &rp.UsedCount); err != nil {
			continue
		}
		rp.LastUsed = time.Unix(0, used)
		repos = append(repos, rp)
	}
	return repos, rows.Err()
}
