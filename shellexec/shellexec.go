// Package shellexec runs one shell command per invocation and merges its
// stdout and stderr into a single ordered stream of chunks. Chunks carry
// decoded text in true arrival order across both channels; invalid UTF-8 is
// substituted, never fatal. The stream is lazy and single-pass: the caller
// must either drain the channel or cancel the context.
package shellexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// Channel identifies which output stream a chunk arrived on.
type Channel string

const (
	Out Channel = "out"
	Err Channel = "err"
)

// Chunk is one decoded piece of process output.
type Chunk struct {
	Channel Channel `json:"channel"`
	Text    string  `json:"text"`
}

// readSize bounds each read so neither stream can starve the other.
const readSize = 1024

// sensitiveEnvPatterns are case-insensitive suffixes for environment
// variables that are excluded from child processes.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always included regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"NVM_DIR": true, "RUSTUP_HOME": true, "PYENV_ROOT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment returns the process environment with credential-bearing
// variables removed, so harness API keys never leak into agent commands.
func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := parts[0]
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// Runner executes shell commands in a fixed working directory.
type Runner struct {
	workingDir string
}

// NewRunner creates a Runner. An empty dir means the current directory.
func NewRunner(workingDir string) *Runner {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	return &Runner{workingDir: workingDir}
}

// WorkingDirectory returns the directory commands run in.
func (r *Runner) WorkingDirectory() string {
	return r.workingDir
}

// Run spawns the command under the shell and returns a channel of output
// chunks interleaved in arrival order. The channel closes after the process
// has exited and both streams are drained. Cancelling ctx kills the whole
// process group and stops the stream. A spawn failure is returned directly;
// no chunks are fabricated. The process exit status is not surfaced.
func (r *Runner) Run(ctx context.Context, command string) (<-chan Chunk, error) {
	shell := "/bin/bash"
	shellArg := "-c"
	if runtime.GOOS == "windows" {
		shell = "cmd.exe"
		shellArg = "/c"
	}

	cmd := exec.CommandContext(ctx, shell, shellArg, command)
	cmd.Dir = r.workingDir
	cmd.Env = filterEnvironment()

	// Own process group, so cancellation also reaps grandchildren.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	chunks := make(chan Chunk, 16)
	var g errgroup.Group
	g.Go(func() error { return readInto(ctx, chunks, Out, stdout) })
	g.Go(func() error { return readInto(ctx, chunks, Err, stderr) })

	go func() {
		// Both readers must finish before Wait closes the pipes.
		_ = g.Wait()
		_ = cmd.Wait()
		close(chunks)
	}()

	return chunks, nil
}

// readInto copies one stream onto the shared chunk channel in bounded reads.
// Each read is decoded independently; bytes that do not form valid UTF-8 are
// replaced with U+FFFD, matching the rest of the chunk contract.
func readInto(ctx context.Context, chunks chan<- Chunk, ch Channel, r io.Reader) error {
	buf := make([]byte, readSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case chunks <- Chunk{Channel: ch, Text: strings.ToValidUTF8(string(buf[:n]), "�")}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// Pipe teardown during cancellation is not a reportable failure.
			return nil
		}
	}
}
