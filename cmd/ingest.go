package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/knowledge-cli/internal/model"
)

var (
	ingestDataset string
	ingestDir     string
)

// ingestable extensions for --dir scans. Anything else in the directory is
// skipped rather than ingested as a signal file; explicit single-file
// ingest still accepts any path.
var ingestableExts = map[string]bool{
	".csv":  true,
	".tsv":  true,
	".xlsx": true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a data file (or a directory of files) into the knowledge base",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestDir == "" && len(args) == 0 {
			return eris.New("provide a file argument or --dir")
		}

		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if ingestDir != "" {
			return ingestDirectory(cmd.Context(), env, ingestDir)
		}

		state, err := env.Pipeline.Start(cmd.Context(), args[0], ingestDataset)
		if err != nil {
			return err
		}
		printSession(state)
		return nil
	},
}

// ingestDirectory starts a session per recognized file, bounded by the
// configured concurrency. Individual failures are reported per file and do
// not stop the batch.
func ingestDirectory(ctx context.Context, env *pipelineEnv, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return eris.Wrapf(err, "read dir %s", dir)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !ingestableExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return eris.Errorf("no ingestable files in %s", dir)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Ingest.MaxConcurrentFiles)

	var mu sync.Mutex
	var states []*model.PipelineState

	for _, file := range files {
		g.Go(func() error {
			state, err := env.Pipeline.Start(gCtx, file, ingestDataset)
			if err != nil {
				zap.L().Error("ingest failed", zap.String("file", file), zap.Error(err))
				fmt.Printf("FAILED  %s: %v\n", file, err)
				return nil
			}
			mu.Lock()
			states = append(states, state)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(states, func(i, j int) bool { return states[i].FilePath < states[j].FilePath })
	for _, state := range states {
		printSession(state)
	}
	return nil
}

func printSession(state *model.PipelineState) {
	fmt.Printf("session %s  %s  [%s]\n", state.SessionID, state.FilePath, state.Status)
	switch state.Status {
	case model.SessionStatusSuspended:
		fmt.Printf("  review needed (%s): %s\n", state.PendingReviewType, state.PendingQuestion)
		fmt.Printf("  resume with: knowledge-cli resume %s --answer \"...\"\n", state.SessionID)
	case model.SessionStatusCompleted:
		fmt.Printf("  anchor: %s %q (%.2f)\n", state.AnchorStatus, state.AnchorColumn, state.AnchorConfidence)
	case model.SessionStatusFailed:
		fmt.Printf("  error: %s\n", state.ErrorMessage)
	}
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDataset, "dataset", "", "dataset ID (default: file stem)")
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "ingest every recognized file in a directory")
	rootCmd.AddCommand(ingestCmd)
}
