package deploy

import (
	"context"
	"fmt"

	"al.essio.dev/pkg/shellescape"
	"github.com/Iron-Ham/rollout/internal/config"
)

// Config keys read by ScriptBody.
const (
	KeyRepository  = "repository"
	KeyBranch      = "branch"
	KeySharedDirs  = "shared_dirs"
	KeySharedFiles = "shared_files"
	KeyCommands    = "commands"
)

// ScriptBody returns the default deploy body:
//
//  1. shallow-clone repository at branch into the build directory, when set
//  2. link every shared_dirs and shared_files entry from shared/
//  3. run commands in order inside the build directory
func ScriptBody() Body {
	return func(ctx context.Context, s *Session) error {
		store := s.Store()

		if repo := store.String(KeyRepository, ""); repo != "" {
			branch := store.String(KeyBranch, "main")
			clone := fmt.Sprintf("git clone --depth 1 --branch %s %s .",
				shellescape.Quote(branch), shellescape.Quote(repo))
			if _, err := s.Run(ctx, clone); err != nil {
				return err
			}
		}

		for _, rel := range sharedPaths(store) {
			if err := s.LinkShared(ctx, rel); err != nil {
				return err
			}
		}

		for _, line := range store.StringSlice(KeyCommands) {
			if _, err := s.Run(ctx, line); err != nil {
				return err
			}
		}
		return nil
	}
}

// PlannedSteps describes what ScriptBody would do, for dry runs.
func PlannedSteps(store *config.Store) []string {
	var steps []string
	if repo := store.String(KeyRepository, ""); repo != "" {
		steps = append(steps, fmt.Sprintf("clone %s (%s)", repo, store.String(KeyBranch, "main")))
	}
	for _, rel := range sharedPaths(store) {
		steps = append(steps, "link shared/"+rel)
	}
	for _, line := range store.StringSlice(KeyCommands) {
		steps = append(steps, "run: "+line)
	}
	return steps
}

func sharedPaths(store *config.Store) []string {
	return append(store.StringSlice(KeySharedDirs), store.StringSlice(KeySharedFiles)...)
}
