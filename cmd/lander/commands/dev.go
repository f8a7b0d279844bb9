package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// devDebounce collapses a burst of file events into one validation pass.
const devDebounce = 500 * time.Millisecond

func newDevCommand() *cobra.Command {
	var ov manifestOverrides

	cmd := &cobra.Command{
		Use:   "dev [manifest...]",
		Short: "Watch the manifest and re-validate on change",
		Long: `Watch the manifest sources and template workspace, re-running the full
validation pipeline on every change.

Useful while authoring a manifest or template: keep this running in a
terminal and see validation results as you save.`,
		Example: `  # Watch the manifest in the current directory
  lander dev

  # Watch a specific manifest
  lander dev envs/dev.cue`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().
				Strs("sources", manifestSources(args)).
				Msg("Starting watch mode")

			settings, err := loadSettings()
			if err != nil {
				return err
			}

			runPass := func() {
				if err := validatePass(ctx, settings, args, ov); err != nil {
					log.Warn().Err(err).Msg("Validation failed")
					return
				}
				fmt.Println("✓ Manifest and template are valid")
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			for _, path := range watchPaths(ctx, args, ov) {
				if err := watcher.Add(path); err != nil {
					log.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
					continue
				}
				fmt.Printf("Watching %s\n", path)
			}
			fmt.Println("Press Ctrl+C to stop.")

			runPass()

			// Editors burst events; collapse each burst into one pass.
			debounce := time.NewTimer(devDebounce)
			if !debounce.Stop() {
				<-debounce.C
			}
			defer debounce.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
						continue
					}
					log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("File changed")
					debounce.Reset(devDebounce)
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Warn().Err(err).Msg("Watcher error")
				case <-debounce.C:
					runPass()
				}
			}
		},
	}

	cmd.Flags().StringVarP(&ov.environment, "environment", "e", "", "override the manifest environment")
	cmd.Flags().BoolVar(&ov.skipLint, "skip-lint", false, "skip the lint plugins")

	return cmd
}

// watchPaths returns the directories to watch: each manifest source and
// the template workspace, deduplicated.
func watchPaths(ctx context.Context, args []string, ov manifestOverrides) []string {
	seen := make(map[string]bool)
	var paths []string
	add := func(path string) {
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		paths = append(paths, path)
	}

	for _, source := range manifestSources(args) {
		info, err := os.Stat(source)
		if err != nil {
			continue
		}
		if info.IsDir() {
			add(source)
			continue
		}
		add(filepath.Dir(source))
	}

	// Watch the template workspace too, when the manifest parses.
	if spec, err := loadSpec(ctx, args, ov); err == nil {
		add(spec.Template.WorkspaceDir)
	}

	return paths
}
