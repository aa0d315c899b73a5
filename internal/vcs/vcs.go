// Package vcs is the version-control collaborator a workspace stages,
// commits and synchronizes through. Git is the only real implementation.
package vcs

import (
	"context"
	"errors"
)

// ErrNothingToCommit is returned by Commit when the index has no changes.
var ErrNothingToCommit = errors.New("vcs: nothing to commit")

// VersionControl is what a workspace needs from its repository. After Pull
// or SyncWithRemote return, successfully or not, the working tree may have
// changed and the caller must reconcile before serving reads.
type VersionControl interface {
	IsRepo(ctx context.Context) bool
	Init(ctx context.Context) error
	Stage(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) error
	Pull(ctx context.Context, remote, branch string) error
	Push(ctx context.Context, remote, branch string) error
	SyncWithRemote(ctx context.Context, url, credential string) error
	Status(ctx context.Context) (map[string]string, error)
}

// Noop satisfies VersionControl for workspaces without a repository.
type Noop struct{}

var (
	_ VersionControl = Noop{}
	_ VersionControl = (*Git)(nil)
)

func (Noop) IsRepo(context.Context) bool                          { return false }
func (Noop) Init(context.Context) error                           { return nil }
func (Noop) Stage(context.Context, ...string) error               { return nil }
func (Noop) Commit(context.Context, string) error                 { return ErrNothingToCommit }
func (Noop) Pull(context.Context, string, string) error           { return nil }
func (Noop) Push(context.Context, string, string) error           { return nil }
func (Noop) SyncWithRemote(context.Context, string, string) error { return nil }
func (Noop) Status(context.Context) (map[string]string, error)    { return map[string]string{}, nil }
