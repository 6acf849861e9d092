package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Rogers-F/storyboard-engine/internal/batch"
	"github.com/Rogers-F/storyboard-engine/internal/bridge"
	"github.com/Rogers-F/storyboard-engine/internal/domain"
	"github.com/Rogers-F/storyboard-engine/internal/generate"
	"github.com/Rogers-F/storyboard-engine/internal/ipc"
	"github.com/Rogers-F/storyboard-engine/internal/store"
)

func (a *app) batchCmd() *cobra.Command {
	var (
		req       ipc.BatchRequest
		viewsPath string
		delayMS   int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Generate one record per view and store them",
		Long: `Runs every view in the views file through the same brief. The first
successful record becomes the reference when none exists yet. Interrupting
the command cancels the batch after the in-flight view.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			views, err := loadViews(viewsPath)
			if err != nil {
				return err
			}
			req.Views = viewRequests(views)
			if cmd.Flags().Changed("delay-ms") {
				req.DelayMS = &delayMS
			}
			if err := ipc.Validate(a.limits(), req); err != nil {
				return printInputError(cmd, err)
			}
			return a.runBatch(cmd.Context(), cmd.OutOrStdout(), req)
		},
	}
	bindGenerateFlags(cmd.Flags(), &req.GenerateRequest)
	cmd.Flags().StringVar(&viewsPath, "views", "", "YAML or JSON file listing the views")
	cmd.Flags().StringVar(&req.Mode, "mode", "", "dispatch mode: sequential|parallel (default from config)")
	cmd.Flags().IntVar(&delayMS, "delay-ms", 0, "pause after each successful sequential view (default from config)")
	_ = cmd.MarkFlagRequired("views")
	return cmd
}

func (a *app) runBatch(ctx context.Context, out io.Writer, req ipc.BatchRequest) error {
	cfg, logger := a.cfg, a.logger

	gen, err := a.generator(ctx)
	if err != nil {
		return err
	}

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	br := bridge.NewBridge(db, logger)
	ref, err := br.CurrentReference(ctx)
	if err != nil {
		return err
	}

	runner := batch.NewRunner(br, batch.Tee(br, progressPrinter(out)), cfg.Batch.MaxViews, logger)
	manager := batch.NewManager(runner, br, logger)
	defer manager.StopAll()

	kind := domain.KindScenes
	if req.Natural() {
		kind = domain.KindTemplate
	}
	mode := domain.RunMode(req.Mode)
	if mode == "" {
		mode = domain.RunMode(cfg.Batch.DefaultMode)
	}
	delay := time.Duration(cfg.Batch.InterRequestDelayMS) * time.Millisecond
	if req.DelayMS != nil {
		delay = time.Duration(*req.DelayMS) * time.Millisecond
	}

	unit := &generate.ViewUnit{Gen: gen, Brief: req.ToBrief(), Kind: kind}
	runID, err := manager.Start(ctx, unit, req.ViewSpecs(), batch.Options{
		Mode:      mode,
		Delay:     delay,
		Reference: ref,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "run %s started (%s, %d views)\n", runID, mode, len(req.Views))

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		if ctx.Err() == nil {
			if err := manager.Cancel(runID); err == nil {
				fmt.Fprintln(out, "cancel requested, finishing in-flight view")
			}
		}
	}()

	rep, runErr := manager.Wait(context.Background(), runID)
	stop()
	if rep != nil {
		fmt.Fprintf(out, "run %s: %d succeeded, %d failed, %d canceled\n",
			runID, rep.Succeeded, rep.Failed, rep.Canceled)
		if rep.ReferenceID != "" {
			fmt.Fprintf(out, "reference record: %s\n", rep.ReferenceID)
		}
	}
	if runErr != nil {
		logger.Warn("batch failed", zap.String("run_id", runID), zap.Error(runErr))
	}
	return runErr
}

// progressPrinter reports item progress and results on out.
func progressPrinter(out io.Writer) batch.Observer {
	return batch.ObserverFuncs{
		OnProgress: func(view domain.ViewSpec, index, total int) {
			fmt.Fprintf(out, "[%d/%d] %s: generating\n", index+1, total, viewName(view))
		},
		OnResult: func(res batch.ItemResult, total int) {
			line := fmt.Sprintf("[%d/%d] %s: %s", res.Index+1, total, viewName(res.View), res.Outcome)
			if res.Reason != "" {
				line += " (" + res.Reason + ")"
			}
			fmt.Fprintln(out, line)
		},
	}
}

func viewName(v domain.ViewSpec) string {
	if v.Label != "" {
		return v.Label
	}
	return v.ID
}

// loadViews reads a views file holding either a list of views or a
// document with a top-level "views" key. JSON files parse as YAML.
func loadViews(path string) ([]domain.ViewSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read views file: %w", err)
	}

	var doc struct {
		Views []domain.ViewSpec `yaml:"views"`
	}
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Views) > 0 {
		return doc.Views, nil
	}

	var list []domain.ViewSpec
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse views file %s: %w", path, err)
	}
	if len(list) == 0 {
		return nil, errors.New("views file lists no views")
	}
	return list, nil
}

func viewRequests(views []domain.ViewSpec) []ipc.ViewRequest {
	out := make([]ipc.ViewRequest, len(views))
	for i, v := range views {
		out[i] = ipc.ViewRequest{
			ID:                v.ID,
			Label:             v.Label,
			Instruction:       v.Instruction,
			RequiresReference: v.RequiresReference,
		}
	}
	return out
}
