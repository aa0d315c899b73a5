package vcs

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// DefaultRemote is the remote SyncWithRemote manages.
const DefaultRemote = "origin"

// Git drives the git command line in a working tree.
type Git struct {
	dir         string
	branch      string
	authorName  string
	authorEmail string
	logger      *slog.Logger
}

// GitOption customizes a Git.
type GitOption func(*Git)

// WithAuthor sets the identity used for commits.
func WithAuthor(name, email string) GitOption {
	return func(g *Git) { g.authorName, g.authorEmail = name, email }
}

// WithBranch sets the branch Init creates and SyncWithRemote tracks.
func WithBranch(branch string) GitOption {
	return func(g *Git) { g.branch = branch }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GitOption {
	return func(g *Git) { g.logger = l }
}

// NewGit returns a Git rooted at dir.
func NewGit(dir string, opts ...GitOption) *Git {
	g := &Git{dir: dir, branch: "main", logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Available reports whether a git binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// run executes git with args in the working tree and returns stdout without
// its trailing newline.
func (g *Git) run(ctx context.Context, extraEnv []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	if g.authorName != "" {
		cmd.Env = append(cmd.Env, "GIT_AUTHOR_NAME="+g.authorName, "GIT_COMMITTER_NAME="+g.authorName)
	}
	if g.authorEmail != "" {
		cmd.Env = append(cmd.Env, "GIT_AUTHOR_EMAIL="+g.authorEmail, "GIT_COMMITTER_EMAIL="+g.authorEmail)
	}
	cmd.Env = append(cmd.Env, extraEnv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("vcs: git %s: %w\n%s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimRight(stdout.String(), "\r\n"), nil
}

// IsRepo reports whether the directory is inside a git working tree.
func (g *Git) IsRepo(ctx context.Context) bool {
	out, err := g.run(ctx, nil, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Init creates a repository when the directory is not one yet.
func (g *Git) Init(ctx context.Context) error {
	if g.IsRepo(ctx) {
		return nil
	}
	if _, err := g.run(ctx, nil, "init", "--quiet"); err != nil {
		return err
	}
	_, err := g.run(ctx, nil, "symbolic-ref", "HEAD", "refs/heads/"+g.branch)
	return err
}

// Stage adds paths (relative to the working tree) to the index. Deleted
// paths are staged as removals.
func (g *Git) Stage(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "--all", "--"}, paths...)
	_, err := g.run(ctx, nil, args...)
	return err
}

// Commit records staged changes. It returns ErrNothingToCommit when the
// index matches HEAD.
func (g *Git) Commit(ctx context.Context, message string) error {
	if g.hasHead(ctx) {
		if _, err := g.run(ctx, nil, "diff", "--cached", "--quiet", "HEAD"); err == nil {
			return ErrNothingToCommit
		}
	} else if out, _ := g.run(ctx, nil, "ls-files", "--cached"); out == "" {
		return ErrNothingToCommit
	}
	_, err := g.run(ctx, nil, "commit", "--quiet", "--no-verify", "-m", message)
	return err
}

func (g *Git) hasHead(ctx context.Context) bool {
	_, err := g.run(ctx, nil, "rev-parse", "--verify", "--quiet", "HEAD")
	return err == nil
}

// Pull merges remote/branch into the current branch.
func (g *Git) Pull(ctx context.Context, remote, branch string) error {
	return g.pull(ctx, nil, remote, branch)
}

func (g *Git) pull(ctx context.Context, env []string, remote, branch string) error {
	_, err := g.run(ctx, env, "pull", "--no-rebase", "--no-edit", remote, branch)
	return err
}

// Push pushes branch to remote and sets upstream.
func (g *Git) Push(ctx context.Context, remote, branch string) error {
	return g.push(ctx, nil, remote, branch)
}

func (g *Git) push(ctx context.Context, env []string, remote, branch string) error {
	_, err := g.run(ctx, env, "push", "--set-upstream", remote, branch)
	return err
}

// SyncWithRemote points DefaultRemote at url, pulls the configured branch
// when the remote has it, and pushes local commits. credential, when set,
// is sent as HTTP basic auth for this call only and never written to the
// repository config.
func (g *Git) SyncWithRemote(ctx context.Context, url, credential string) error {
	if err := g.setRemote(ctx, url); err != nil {
		return err
	}
	env := credentialEnv(credential)

	exists, err := g.remoteHasBranch(ctx, env)
	if err != nil {
		return err
	}
	if exists {
		if err := g.pull(ctx, env, DefaultRemote, g.branch); err != nil {
			return err
		}
	}
	if !g.hasHead(ctx) {
		g.logger.Debug("vcs: nothing to push yet")
		return nil
	}
	return g.push(ctx, env, DefaultRemote, g.branch)
}

func (g *Git) setRemote(ctx context.Context, url string) error {
	current, err := g.run(ctx, nil, "remote", "get-url", DefaultRemote)
	if err != nil {
		_, err = g.run(ctx, nil, "remote", "add", DefaultRemote, url)
		return err
	}
	if current == url {
		return nil
	}
	_, err = g.run(ctx, nil, "remote", "set-url", DefaultRemote, url)
	return err
}

func (g *Git) remoteHasBranch(ctx context.Context, env []string) (bool, error) {
	_, err := g.run(ctx, env, "ls-remote", "--exit-code", "--heads", DefaultRemote, g.branch)
	if err == nil {
		return true, nil
	}
	// ls-remote --exit-code exits 2 when no matching ref exists.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 2 {
		return false, nil
	}
	return false, err
}

// credentialEnv passes an Authorization header through git's environment
// config so it never lands in .git/config.
func credentialEnv(credential string) []string {
	if credential == "" {
		return nil
	}
	basic := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + credential))
	return []string{
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=http.extraHeader",
		"GIT_CONFIG_VALUE_0=Authorization: Basic " + basic,
	}
}

// Status runs `git status --porcelain=v1` and maps working-tree paths to
// their two-letter status codes.
func (g *Git) Status(ctx context.Context) (map[string]string, error) {
	out, err := g.run(ctx, nil, "status", "--porcelain=v1", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	status := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		p := strings.TrimSpace(line[3:])
		if i := strings.Index(p, " -> "); i >= 0 {
			p = p[i+4:]
		}
		status[strings.Trim(p, `"`)] = line[:2]
	}
	return status, nil
}
