package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hatchctl/hatch/internal/cerr"
	"github.com/hatchctl/hatch/internal/config"
	"github.com/hatchctl/hatch/internal/driver"
	"github.com/hatchctl/hatch/internal/workspace"
)

// lifecycleRunner executes lifecycle hooks inside a container.
type lifecycleRunner struct {
	driver      driver.Driver
	store       *workspace.Store
	workspaceID string
	containerID string
	remoteUser  string
	remoteEnv   map[string]string
	logger      *slog.Logger
	stdout      io.Writer
	stderr      io.Writer
	progress    func(string)
	verbose     bool
}

// hookPlan controls which lifecycle hooks runLifecycleHooks executes.
type hookPlan struct {
	// prebuild stops the sequence after updateContentCommand: no
	// postCreate, postStart, or postAttach hooks run.
	prebuild bool

	// skipPostCreate suppresses postCreateCommand.
	skipPostCreate bool

	// skipPostAttach suppresses postAttachCommand.
	skipPostAttach bool
}

// runLifecycleHooks executes the devcontainer lifecycle hooks in order.
// Hooks run as the remote user. Marker files provide idempotency for
// create-time hooks (onCreate, updateContent, postCreate).
// "Container ready." is reported once the cfg.WaitFor stage has been
// processed (default updateContentCommand), even if that stage has no hook.
func (r *lifecycleRunner) runLifecycleHooks(ctx context.Context, cfg *config.DevContainerConfig, workspaceFolder string, plan hookPlan) error {
	waitFor := cfg.WaitFor
	if waitFor == "" {
		waitFor = "updateContentCommand"
	}

	// onCreate hooks: run only once (marker file prevents re-execution).
	if err := r.runHookWithMarker(ctx, "onCreateCommand", cfg.OnCreateCommand, workspaceFolder); err != nil {
		return err
	}
	r.signalReadyAt("onCreateCommand", waitFor)

	// updateContent hooks.
	if err := r.runHookWithMarker(ctx, "updateContentCommand", cfg.UpdateContentCommand, workspaceFolder); err != nil {
		return err
	}
	r.signalReadyAt("updateContentCommand", waitFor)

	// Prebuild mode stops here: the image cache is warmed, but no
	// postCreate/postStart/postAttach hooks run against a throwaway container.
	if plan.prebuild {
		return nil
	}

	// postCreate hooks: run only once.
	if !plan.skipPostCreate {
		if err := r.runHookWithMarker(ctx, "postCreateCommand", cfg.PostCreateCommand, workspaceFolder); err != nil {
			return err
		}
	}
	r.signalReadyAt("postCreateCommand", waitFor)

	// postStart hooks: run every time the container starts.
	if err := r.runHook(ctx, "postStartCommand", cfg.PostStartCommand, workspaceFolder); err != nil {
		return err
	}
	r.signalReadyAt("postStartCommand", waitFor)

	// postAttach hooks: run every time.
	if !plan.skipPostAttach {
		if err := r.runHook(ctx, "postAttachCommand", cfg.PostAttachCommand, workspaceFolder); err != nil {
			return err
		}
	}

	return nil
}

// signalReadyAt reports "Container ready." when stage is the waitFor stage.
func (r *lifecycleRunner) signalReadyAt(stage, waitFor string) {
	if stage == waitFor && r.progress != nil {
		r.progress("Container ready.")
	}
}

// runResumeHooks executes only the resume-flow lifecycle hooks (postStartCommand
// and postAttachCommand). Per the devcontainer spec, these are the only hooks
// that run when a container is restarted (as opposed to freshly created).
func (r *lifecycleRunner) runResumeHooks(ctx context.Context, cfg *config.DevContainerConfig, workspaceFolder string) error {
	// postStart hooks: run every time the container starts.
	if err := r.runHook(ctx, "postStartCommand", cfg.PostStartCommand, workspaceFolder); err != nil {
		return err
	}

	// postAttach hooks: run every time.
	if err := r.runHook(ctx, "postAttachCommand", cfg.PostAttachCommand, workspaceFolder); err != nil {
		return err
	}

	return nil
}

// runHookWithMarker executes a lifecycle hook, using a host-side marker
// file to ensure it only runs once. Markers are stored in the workspace
// directory (~/.hatch/workspaces/{id}/hooks/) so they survive container
// recreation (e.g. docker compose up recreating stopped containers).
func (r *lifecycleRunner) runHookWithMarker(ctx context.Context, name string, hook config.LifecycleHook, workspaceFolder string) error {
	if len(hook) == 0 {
		return nil
	}

	// Check if marker exists on the host (hook already ran).
	if r.store.IsHookDone(r.workspaceID, name) {
		r.logger.Debug("skipping hook (already ran)", "hook", name)
		return nil
	}

	if err := r.runHook(ctx, name, hook, workspaceFolder); err != nil {
		return err
	}

	// Create marker file on the host.
	if err := r.store.MarkHookDone(r.workspaceID, name); err != nil {
		r.logger.Warn("failed to write hook marker", "hook", name, "error", err)
	}
	return nil
}

// runHook executes a lifecycle hook's commands inside the container.
//
// A bare string or array form unmarshals to a single "" entry and runs as
// one sequential command list. A named-mapping form runs each named entry
// concurrently: every peer is allowed to finish even if one fails, and the
// first error encountered is returned once they all complete.
func (r *lifecycleRunner) runHook(ctx context.Context, name string, hook config.LifecycleHook, workspaceFolder string) error {
	if len(hook) == 0 {
		return nil
	}

	if r.progress != nil {
		r.progress("Running " + name + "...")
	}
	r.logger.Debug("running lifecycle hook", "hook", name)

	if cmdParts, ok := hook[""]; ok && len(hook) == 1 {
		return r.runHookCommands(ctx, name, cmdParts, workspaceFolder)
	}

	var g errgroup.Group
	for hookName, cmdParts := range hook {
		hookName, cmdParts := hookName, cmdParts
		label := name + ":" + hookName
		g.Go(func() error {
			return r.runHookCommands(ctx, label, cmdParts, workspaceFolder)
		})
	}
	return g.Wait()
}

// dispatchHook calls fn once for a bare string or array hook (the "" entry)
// and concurrently for each entry of a named mapping, returning the first
// error once all entries finish.
func dispatchHook(ctx context.Context, hook config.LifecycleHook, fn func(ctx context.Context, hookName string, cmdParts []string) error) error {
	if len(hook) == 0 {
		return nil
	}
	if cmdParts, ok := hook[""]; ok && len(hook) == 1 {
		return fn(ctx, "", cmdParts)
	}
	var g errgroup.Group
	for name, parts := range hook {
		name, parts := name, parts
		g.Go(func() error { return fn(ctx, name, parts) })
	}
	return g.Wait()
}

// runHookCommands runs each entry in cmdParts as a separate command, one
// after another, stopping at the first non-zero exit.
func (r *lifecycleRunner) runHookCommands(ctx context.Context, label string, cmdParts []string, workspaceFolder string) error {
	for _, cmd := range cmdParts {
		execCmd := r.wrapCommand(cmd, workspaceFolder)
		r.logger.Debug("executing hook command", "hook", label, "cmd", execCmd)
		if err := r.driver.ExecContainer(ctx, r.workspaceID, r.containerID, execCmd, nil, r.stdout, r.stderr, envSlice(r.remoteEnv), r.remoteUser); err != nil {
			return cerr.Wrap(cerr.HookFailed, fmt.Sprintf("lifecycle hook %q failed", label), err)
		}
	}
	return nil
}

// wrapCommand wraps a command string to run in the workspace folder.
// User switching is handled at the driver level via --user.
func (r *lifecycleRunner) wrapCommand(cmdStr string, workspaceFolder string) []string {
	inner := cmdStr
	if workspaceFolder != "" {
		inner = fmt.Sprintf("cd %q 2>/dev/null; %s", workspaceFolder, inner)
	}
	return []string{"sh", "-c", inner}
}

