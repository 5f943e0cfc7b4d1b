package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/martinemde/harness/agentloop"
	"github.com/martinemde/harness/llmclient"
	"github.com/martinemde/harness/runstore"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(r *http.Request, into any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(into); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// runRequest is the POST /api/run body.
type runRequest struct {
	RepoURL       string `json:"repo_url"`
	Repo          string `json:"repo"` // alias accepted for repo_url
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	Task          string `json:"task"`
	APIKey        string `json:"api_key"`
	Truncate      bool   `json:"truncate"`
	TruncateLimit int    `json:"truncate_limit"`
}

func (s *Server) handleRunCreate(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	repo := strings.TrimSpace(req.RepoURL)
	if repo == "" {
		repo = strings.TrimSpace(req.Repo)
	}
	if repo == "" || strings.TrimSpace(req.Task) == "" {
		writeError(w, http.StatusBadRequest, "missing repo_url or task")
		return
	}
	provider := req.Provider
	if provider == "" {
		provider = s.cfg.DefaultProvider
	}
	truncateLimit := 0
	if req.Truncate {
		truncateLimit = req.TruncateLimit
		if truncateLimit <= 0 {
			truncateLimit = defaultTruncateLimit
		}
	}

	runID, err := s.startRun(startParams{
		Repo:          repo,
		Provider:      provider,
		Model:         req.Model,
		Task:          req.Task,
		APIKey:        strings.TrimSpace(req.APIKey),
		TruncateLimit: truncateLimit,
	})
	if err != nil {
		if errors.Is(err, errRepoNotFound) {
			writeError(w, http.StatusBadRequest, "repo path not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID})
}

func (s *Server) handleRunsList(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []runstore.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRunMeta(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(r.PathValue("id"))
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleRunEvents serves the run's event log incrementally by byte offset.
// When no new complete lines exist at pos, the request long-polls for up to
// LongPollWait before returning an empty batch.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(r.PathValue("id"))
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pos, _ := strconv.ParseInt(r.URL.Query().Get("pos"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}

	deadline := time.Now().Add(s.cfg.LongPollWait)
	for {
		records, next, err := runstore.ReadEvents(run.EventsPath(), pos, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(records) > 0 || time.Now().After(deadline) {
			if records == nil {
				records = []runstore.Record{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"next_pos": next, "events": records})
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (s *Server) handleRunCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.Get(id)
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if active := s.lookupActive(id); active != nil {
		active.log.Log(agentloop.EventInfo, map[string]any{"text": "Cancellation requested by user."})
		active.abort()
	} else {
		// The loop already finished; record the request for the watcher.
		if log, err := runstore.OpenEventLog(run.EventsPath()); err == nil {
			log.Log(agentloop.EventInfo, map[string]any{"text": "Cancellation requested by user."})
			log.Close()
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.Get(id)
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if active := s.lookupActive(id); active != nil {
		active.abort()
	}

	removedRepo := false
	var skipReason string
	if run.RepoURL != "" {
		removedRepo, skipReason = s.removeClonedRepo(run)
	}

	if err := os.RemoveAll(run.Dir); err != nil {
		s.logger.Warn("run dir removal failed", "run", id, "err", err)
	}
	if err := s.store.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"removed_repo": removedRepo,
		"skip_reason":  skipReason,
	})
}

// removeClonedRepo deletes the run's working tree when it is safe: the tree
// was cloned by this service (lives inside the workspace) and no other run
// references it.
func (s *Server) removeClonedRepo(run runstore.Run) (removed bool, skipReason string) {
	repoPath, err := filepath.Abs(run.RepoPath)
	if err != nil {
		return false, "repo path not resolvable"
	}
	workspace, err := filepath.Abs(s.cfg.WorkspaceDir)
	if err != nil {
		return false, "workspace path not resolvable"
	}
	rel, err := filepath.Rel(workspace, repoPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false, "repo outside workspace"
	}
	referenced, err := s.store.RepoPathReferenced(run.RepoPath, run.ID)
	if err != nil || referenced {
		return false, "repo referenced by another run"
	}
	if err := os.RemoveAll(repoPath); err != nil {
		return false, "repo delete error: " + err.Error()
	}
	return true, ""
}

func (s *Server) handleReposList(w http.ResponseWriter, r *http.Request) {
	repos, err := s.store.ListRepos()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if repos == nil {
		repos = []runstore.Repo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"repos": repos})
}

func (s *Server) handleReposAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoURL string `json:"repo_url"`
		URL     string `json:"url"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	url := strings.TrimSpace(req.RepoURL)
	if url == "" {
		url = strings.TrimSpace(req.URL)
	}
	if url == "" {
		writeError(w, http.StatusBadRequest, "repo_url required")
		return
	}
	if err := s.store.TouchRepo(url); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSSHKeyGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"present": s.keys.Present()})
}

func (s *Server) handleSSHKeySave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PrivateKey string `json:"private_key"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.PrivateKey) == "" {
		writeError(w, http.StatusBadRequest, "private_key required")
		return
	}
	if err := s.keys.Save(req.PrivateKey); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSSHKeyDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.keys.Delete(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// fallbackModels serves provider model lists when the catalog knows nothing
// about a provider.
var fallbackModels = map[string][]string{
	"openai":    {"gpt-4o", "gpt-4o-mini", "o3-mini"},
	"anthropic": {"claude-opus-4-6", "claude-sonnet-4-5"},
	"gemini":    {"gemini-3-pro-preview", "gemini-1.5-pro"},
	"xai":       {"grok-2"},
	"deepseek":  {"deepseek-chat"},
	"simple":    {"local-simulate", "local-analyze", "local-refactor"},
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("provider")))
	if provider == "" {
		writeError(w, http.StatusBadRequest, "provider required")
		return
	}
	if provider == "claude" {
		provider = "anthropic"
	}

	var ids []string
	for _, m := range llmclient.ListModels(provider) {
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		ids = fallbackModels[provider]
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": ids})
}
