package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/martinemde/harness/agentloop"
	"github.com/martinemde/harness/llmclient"
	"github.com/martinemde/harness/runstore"
	"github.com/martinemde/harness/shellexec"
)

// apiKeyEnv carries the provider API key to detached workers without
// putting it on the command line.
const apiKeyEnv = "HARNESS_API_KEY"

func runCmd(opts *rootOptions) *cobra.Command {
	var (
		repo         string
		task         string
		provider     string
		model        string
		systemPrompt string
		apiKey       string
		truncate     int
		detach       bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a task and stream its events",
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath, err := resolveRepoDir(repo)
			if err != nil {
				return err
			}
			store, err := runstore.Open(opts.runsDir)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.CreateRun(runstore.CreateRunParams{
				RepoPath:      repoPath,
				Provider:      provider,
				Model:         model,
				Task:          task,
				SystemPrompt:  systemPrompt,
				TruncateLimit: truncate,
			})
			if err != nil {
				return err
			}
			store.TouchRepo(repo)

			if apiKey == "" {
				apiKey = os.Getenv(apiKeyEnv)
			}
			if detach {
				return detachRun(opts, run, apiKey)
			}
			return executeRun(store, run, apiKey, NewConsolePrinter())
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "path to the local repository to work in")
	cmd.Flags().StringVar(&task, "task", "", "task description for the agent")
	cmd.Flags().StringVar(&provider, "provider", "simple", "model provider (openai|anthropic|gemini|xai|deepseek|simple)")
	cmd.Flags().StringVar(&model, "model", "", "model name, provider-specific")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "override the built-in system prompt")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "provider API key (defaults to $"+apiKeyEnv+")")
	cmd.Flags().IntVar(&truncate, "truncate", 0, "tail-truncate command output to N characters (0 = full output)")
	cmd.Flags().BoolVar(&detach, "detach", false, "run in the background and print the run id")
	cmd.MarkFlagRequired("repo")
	cmd.MarkFlagRequired("task")
	return cmd
}

func resolveRepoDir(repo string) (string, error) {
	abs, err := filepath.Abs(repo)
	if err != nil {
		return "", fmt.Errorf("repo path not resolvable: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("repo path not found or not a directory: %s", abs)
	}
	return abs, nil
}

// detachRun re-executes the binary in worker mode, detached from the
// terminal, with its output captured in the run directory.
func detachRun(opts *rootOptions, run runstore.Run, apiKey string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(run.Dir, "worker.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open worker log: %w", err)
	}
	defer logFile.Close()

	worker := exec.Command(exe, "worker",
		"--run", run.ID,
		"--runs-dir", opts.runsDir,
		"--data-dir", opts.dataDir,
	)
	worker.Stdout = logFile
	worker.Stderr = logFile
	worker.Env = os.Environ()
	if apiKey != "" {
		worker.Env = append(worker.Env, apiKeyEnv+"="+apiKey)
	}
	worker.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := worker.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	fmt.Println(run.ID)
	return nil
}

// executeRun drives one registered run to completion in this process.
// SIGINT requests cancellation; the loop finishes its teardown and the
// command exits 130.
func executeRun(store *runstore.Store, run runstore.Run, apiKey string, printer *ConsolePrinter) error {
	log, err := runstore.OpenEventLog(run.EventsPath())
	if err != nil {
		return err
	}
	defer log.Close()
	if printer != nil {
		log.Subscribe(printer)
	}

	backend, err := llmclient.New(run.Provider, llmclient.Options{APIKey: apiKey, Model: run.Model})
	if err != nil {
		store.Finish(run.ID, runstore.StatusAborted, "backend-init")
		return err
	}

	cfg := agentloop.Config{
		Model:         run.Model,
		SystemPrompt:  run.SystemPrompt,
		TruncateLimit: run.TruncateLimit,
	}
	loop := agentloop.NewLoop(backend, shellexec.NewRunner(run.RepoPath), run.Task, &cfg)
	loop.SetEventSink(log)

	var interrupted atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			interrupted.Store(true)
			loop.Abort()
		}
	}()

	result := loop.Run(context.Background())

	status := runstore.StatusDone
	if result.Outcome == agentloop.OutcomeAborted {
		status = runstore.StatusAborted
	}
	store.Finish(run.ID, status, result.Reason)

	if interrupted.Load() {
		return exitError{code: 130}
	}
	if result.Outcome == agentloop.OutcomeAborted {
		return exitError{code: 1, message: "run aborted: " + result.Reason}
	}
	return nil
}
