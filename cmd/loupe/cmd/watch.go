package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Keep the code graph up to date as files change",
	Long: `Build the code graph, then watch the tree for file changes and apply
incremental updates. Changes are debounced so a burst of writes (editor
save, git checkout) triggers a single update.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openSession(pathArg(args, 0))
		if err != nil {
			return err
		}
		defer s.close()

		result, err := s.refresh(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Watching %s (%d files, %d entities)\n",
			s.root, len(result.Snapshot.Records), result.Snapshot.Graph.EntityCount())

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer watcher.Close()

		skip := make(map[string]bool, len(s.cfg.Exclude.Dirs)+1)
		skip[".git"] = true
		for _, d := range s.cfg.Exclude.Dirs {
			skip[d] = true
		}
		cacheDir := s.cfg.CacheDir(s.root)

		addDirs := func(base string) error {
			return filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
				if err != nil || !d.IsDir() {
					return err
				}
				if skip[d.Name()] || path == cacheDir {
					return filepath.SkipDir
				}
				return watcher.Add(path)
			})
		}
		if err := addDirs(s.root); err != nil {
			return fmt.Errorf("watch %s: %w", s.root, err)
		}

		// The timer is parked until the first event; each event pushes the
		// deadline out so one update covers the whole burst.
		timer := time.NewTimer(watchDebounce)
		if !timer.Stop() {
			<-timer.C
		}
		dirty := false

		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nStopped")
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !skip[filepath.Base(event.Name)] {
						if err := addDirs(event.Name); err != nil {
							s.logger.Warn("watch new directory", zap.String("dir", event.Name), zap.Error(err))
						}
					}
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				dirty = true
				timer.Reset(watchDebounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				s.logger.Warn("watcher error", zap.Error(err))
			case <-timer.C:
				if !dirty {
					continue
				}
				dirty = false
				if err := s.applyUpdate(ctx); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					s.logger.Error("update failed", zap.Error(err))
				}
			}
		}
	},
}

// applyUpdate rescans against the current manifest and applies the delta.
func (s *session) applyUpdate(ctx context.Context) error {
	prev := s.engine.Snapshot().Manifest
	manifest, err := s.scanner.Scan(ctx, prev)
	if err != nil {
		return err
	}
	result, err := s.engine.Update(ctx, manifest, s.scanner)
	if err != nil {
		return err
	}
	if result.FilesAnalyzed == 0 && len(result.Diagnostics) == 0 {
		return nil
	}
	fmt.Printf("[%s] %d file(s) reanalyzed, %d entities, %d edges (%s)\n",
		time.Now().Format("15:04:05"),
		result.FilesAnalyzed,
		result.Snapshot.Graph.EntityCount(),
		result.Snapshot.Graph.EdgeCount(),
		result.Duration.Round(time.Millisecond))
	return nil
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "how long to wait after the last change before updating")
}
