package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/harness/agentloop"
	"github.com/martinemde/harness/llmclient"
	"github.com/martinemde/harness/runstore"
	"github.com/martinemde/harness/shellexec"
)

// defaultTruncateLimit applies when a run requests truncation without a
// limit.
const defaultTruncateLimit = 4000

var errRepoNotFound = errors.New("repo path not found")

type startParams struct {
	Repo          string // local path or clone URL
	Provider      string
	Model         string
	Task          string
	APIKey        string
	TruncateLimit int
}

func isRemoteURL(repo string) bool {
	for _, prefix := range []string{"http://", "https://", "git@", "ssh://"} {
		if strings.HasPrefix(repo, prefix) {
			return true
		}
	}
	return false
}

// clonePath picks a unique workspace directory for a clone, derived from
// the repository name so the tree stays recognizable on disk.
func (s *Server) clonePath(repoURL string) string {
	name := strings.TrimSuffix(filepath.Base(strings.TrimRight(repoURL, "/")), ".git")
	if name == "" || name == "." {
		name = "repo"
	}
	u := uuid.New()
	folder := fmt.Sprintf("%s-%s-%s", name, time.Now().Format("20060102-150405"), hex.EncodeToString(u[:3]))
	return filepath.Join(s.cfg.WorkspaceDir, folder)
}

// startRun registers a run and launches its worker goroutine. The returned
// id is immediately pollable via the events endpoint.
func (s *Server) startRun(p startParams) (string, error) {
	var repoPath, cloneURL string
	if isRemoteURL(p.Repo) {
		cloneURL = p.Repo
		repoPath = s.clonePath(p.Repo)
	} else {
		abs, err := filepath.Abs(expandHome(p.Repo))
		if err != nil {
			return "", errRepoNotFound
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return "", errRepoNotFound
		}
		repoPath = abs
	}

	run, err := s.store.CreateRun(runstore.CreateRunParams{
		RepoPath:      repoPath,
		RepoURL:       cloneURL,
		Provider:      p.Provider,
		Model:         p.Model,
		Task:          p.Task,
		TruncateLimit: p.TruncateLimit,
	})
	if err != nil {
		return "", err
	}
	if err := s.store.TouchRepo(p.Repo); err != nil {
		s.logger.Warn("repo bookkeeping failed", "repo", p.Repo, "err", err)
	}

	log, err := runstore.OpenEventLog(run.EventsPath())
	if err != nil {
		return "", err
	}

	// Registered before the worker starts so a cancel request issued right
	// after this call returns always finds the run.
	active := &activeRun{log: log}
	s.registerActive(run.ID, active)

	go s.runWorker(run, active, p.APIKey)
	return run.ID, nil
}

// runWorker executes one run end to end: clone when needed, build the
// backend, drive the loop, and record the final status. All progress is
// visible only through the run's event log.
func (s *Server) runWorker(run runstore.Run, active *activeRun, apiKey string) {
	log := active.log
	defer log.Close()
	defer s.deregisterActive(run.ID)

	log.Log(agentloop.EventInfo, map[string]any{
		"text": fmt.Sprintf("Starting run with provider=%s, model=%s, api_key_present=%t",
			run.Provider, run.Model, apiKey != ""),
	})

	ctx := context.Background()

	if run.RepoURL != "" {
		if !s.cloneRepo(ctx, run, log) {
			log.Log(agentloop.EventError, map[string]any{"text": "git clone failed or repository not present"})
			log.Log(agentloop.EventCompleted, map[string]any{"outcome": "aborted", "reason": "clone-failure"})
			s.finishRun(run.ID, runstore.StatusAborted, "clone-failure")
			return
		}
	}

	backend, err := llmclient.New(run.Provider, llmclient.Options{APIKey: apiKey, Model: run.Model})
	if err != nil {
		log.Log(agentloop.EventError, map[string]any{"text": "backend init failed: " + err.Error()})
		log.Log(agentloop.EventCompleted, map[string]any{"outcome": "aborted", "reason": "backend-init"})
		s.finishRun(run.ID, runstore.StatusAborted, "backend-init")
		return
	}

	cfg := agentloop.Config{
		Model:         run.Model,
		SystemPrompt:  run.SystemPrompt,
		TruncateLimit: run.TruncateLimit,
	}
	loop := agentloop.NewLoop(backend, shellexec.NewRunner(run.RepoPath), run.Task, &cfg)
	loop.SetEventSink(log)
	active.attachLoop(loop)

	result := loop.Run(ctx)

	status := runstore.StatusDone
	if result.Outcome == agentloop.OutcomeAborted {
		status = runstore.StatusAborted
	}
	s.finishRun(run.ID, status, result.Reason)
}

func (s *Server) finishRun(id, status, reason string) {
	if err := s.store.Finish(id, status, reason); err != nil {
		s.logger.Warn("run status update failed", "run", id, "err", err)
	}
}

// cloneRepo fetches the run's repository into the workspace, streaming the
// clone output to the event log, and verifies a .git directory appeared.
func (s *Server) cloneRepo(ctx context.Context, run runstore.Run, log *runstore.EventLog) bool {
	if err := os.MkdirAll(s.cfg.WorkspaceDir, 0o755); err != nil {
		log.Log(agentloop.EventError, map[string]any{"text": "workspace create failed: " + err.Error()})
		return false
	}
	log.Log(agentloop.EventInfo, map[string]any{"role": "thought", "text": "Cloning repository: " + run.RepoURL})

	cloneCmd := fmt.Sprintf("%sgit clone %s %s",
		s.keys.GitSSHPrefix(), shellQuote(run.RepoURL), shellQuote(run.RepoPath))
	runner := shellexec.NewRunner(s.cfg.WorkspaceDir)
	streamCommand(ctx, runner, log, cloneCmd)

	info, err := os.Stat(filepath.Join(run.RepoPath, ".git"))
	return err == nil && info.IsDir()
}

// streamCommand runs one shell command on the run's behalf, mirroring its
// output chunks onto the event log the same way loop dispatch does.
func streamCommand(ctx context.Context, runner *shellexec.Runner, log *runstore.EventLog, command string) {
	log.Log(agentloop.EventCommandStart, map[string]any{"command": command})
	chunks, err := runner.Run(ctx, command)
	if err != nil {
		log.Log(agentloop.EventError, map[string]any{"text": err.Error()})
		return
	}
	for chunk := range chunks {
		log.Log(agentloop.EventOutputChunk, map[string]any{"channel": string(chunk.Channel), "text": chunk.Text})
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// prRequest is the POST /api/run/{id}/pr body. All fields are optional;
// blanks are derived from the run's task.
type prRequest struct {
	Branch string `json:"branch"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

func (s *Server) handleRunCreatePR(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(r.PathValue("id"))
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var req prRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log, err := runstore.OpenEventLog(run.EventsPath())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	branch := strings.TrimSpace(req.Branch)
	title := strings.TrimSpace(req.Title)
	display := func(s string) string {
		if s == "" {
			return "(auto)"
		}
		return s
	}
	log.Log(agentloop.EventInfo, map[string]any{
		"text": fmt.Sprintf("PR requested: branch=%q title=%q", display(branch), display(title)),
	})

	go s.prWorker(run, log, branch, title, strings.TrimSpace(req.Body))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// normBranchName reduces a task description to a branch-safe slug, capped
// at 60 characters.
func normBranchName(name string) string {
	var b strings.Builder
	for _, ch := range strings.ToLower(name) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
			b.WriteRune(ch)
		case ch == ' ', ch == '\t', ch == '\n', ch == '/', ch == '\\', ch == ':':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 60 {
		out = strings.Trim(out[:60], "-")
	}
	if out == "" {
		return "changes"
	}
	return out
}

// prWorker branches, commits staged work, pushes and opens a pull request
// when the GitHub CLI is available, streaming every step to the run's
// event log.
func (s *Server) prWorker(run runstore.Run, log *runstore.EventLog, branch, title, body string) {
	defer log.Close()

	if branch == "" {
		task := run.Task
		if task == "" {
			task = "change"
		}
		branch = "feat/" + normBranchName(task)
	}
	if title == "" {
		title = "Agent: " + run.Task
	}
	if body == "" {
		body = fmt.Sprintf("Automated PR for run %s\n\nTask: %s", run.ID, run.Task)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	runner := shellexec.NewRunner(run.RepoPath)
	sshPrefix := s.keys.GitSSHPrefix()
	log.Log(agentloop.EventInfo, map[string]any{"text": "Preparing PR on branch " + branch})

	quotedTitle := shellQuote(title)
	quotedBody := shellQuote(body)
	for _, cmd := range []string{
		sshPrefix + "git remote -v",
		sshPrefix + "git fetch --all --prune",
		"git checkout -B " + branch,
		"git add -A",
		"git diff --cached --quiet || git commit -m " + quotedTitle,
		sshPrefix + "git push -u origin " + branch,
		"if command -v gh >/dev/null 2>&1; then gh pr create -t " + quotedTitle +
			" -b " + quotedBody + " -H '" + branch +
			"' || true; else echo 'gh not installed; create a PR from branch " + branch + "'; fi",
	} {
		streamCommand(ctx, runner, log, cmd)
	}
	log.Log(agentloop.EventInfo, map[string]any{"text": "PR step finished (check output for URL or errors)."})
}
