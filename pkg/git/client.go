// Package git drives the git CLI for repositories that keep their version
// records under source control.
package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultLockName is the lock file created in the working directory.
const DefaultLockName = ".autoversion.lock"

// Client runs git in a working directory. Mutating sequences are serialised
// across processes with a lock file; see Lock.
type Client struct {
	WorkDir  string
	Logger   *slog.Logger
	lockName string
}

// NewClient creates a client for workDir. An empty lockName uses DefaultLockName.
func NewClient(workDir, lockName string, logger *slog.Logger) *Client {
	if lockName == "" {
		lockName = DefaultLockName
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		WorkDir:  workDir,
		Logger:   logger,
		lockName: lockName,
	}
}

// IsInstalled reports whether a git binary is on PATH.
func IsInstalled() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// LockPath returns the absolute path of the lock file.
func (c *Client) LockPath() string {
	return filepath.Join(c.WorkDir, c.lockName)
}

// Lock acquires the lock file, polling until it is free or ctx is done.
func (c *Client) Lock(ctx context.Context) (unlock func(), err error) {
	path := c.LockPath()
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL, 0666)
		if err == nil {
			f.Close()
			return func() {
				_ = os.Remove(path)
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock %s: %w", path, ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Run executes a raw git command. It does not take the lock.
func (c *Client) Run(ctx context.Context, args ...string) (string, error) {
	c.Logger.Debug("executing git", "args", args, "dir", c.WorkDir)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.WorkDir

	out, err := cmd.CombinedOutput()
	output := string(out)
	if err != nil {
		return output, fmt.Errorf("git %s failed: %w\nOutput: %s", args[0], err, output)
	}
	return strings.TrimSpace(output), nil
}

// IsRepo reports whether the working directory is inside a git work tree.
func (c *Client) IsRepo(ctx context.Context) bool {
	out, err := c.Run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Init creates the repository. Re-running it is harmless.
func (c *Client) Init(ctx context.Context) error {
	_, err := c.Run(ctx, "init")
	return err
}

// Add stages files.
func (c *Client) Add(ctx context.Context, files ...string) error {
	if len(files) == 0 {
		return nil
	}
	_, err := c.Run(ctx, append([]string{"add", "--"}, files...)...)
	return err
}

// Rm removes files from the work tree and the index.
func (c *Client) Rm(ctx context.Context, files ...string) error {
	if len(files) == 0 {
		return nil
	}
	_, err := c.Run(ctx, append([]string{"rm", "-r", "-f", "--ignore-unmatch", "--"}, files...)...)
	return err
}

// Commit records the staged changes. An empty author keeps the configured
// identity; otherwise it is passed as "name <name@autoversion>".
func (c *Client) Commit(ctx context.Context, msg, author string) error {
	args := []string{"commit", "--allow-empty", "-m", msg}
	if author != "" {
		args = append(args, "--author", fmt.Sprintf("%s <%s@autoversion>", author, strings.ReplaceAll(author, " ", ".")))
	}
	_, err := c.Run(ctx, args...)
	return err
}

// Head returns the hash of the current commit.
func (c *Client) Head(ctx context.Context) (string, error) {
	return c.Run(ctx, "rev-parse", "HEAD")
}

// Status returns the porcelain status of the repository.
func (c *Client) Status(ctx context.Context) (string, error) {
	return c.Run(ctx, "status", "--porcelain")
}
