// Command script-planilhas recomputes flow-meter calibration workbooks so
// every collection time lands on a fixed value while the certificate
// aggregates stay unchanged. It scans an input directory for .xlsx files,
// processes each one through the adjustment pipeline, and writes a corrected
// copy plus a JSON run report. With WATCH=1 it keeps running and picks up
// new workbooks as they arrive.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/Sanesoluti-dev/Script-Planilhas/adjust"
	"github.com/Sanesoluti-dev/Script-Planilhas/backfill"
	"github.com/Sanesoluti-dev/Script-Planilhas/config"
	"github.com/Sanesoluti-dev/Script-Planilhas/engine"
	"github.com/Sanesoluti-dev/Script-Planilhas/internal/store"
	"github.com/Sanesoluti-dev/Script-Planilhas/internal/watch"
	"github.com/Sanesoluti-dev/Script-Planilhas/metrics"
	"github.com/Sanesoluti-dev/Script-Planilhas/queue"
	"github.com/Sanesoluti-dev/Script-Planilhas/report"
	"github.com/Sanesoluti-dev/Script-Planilhas/xlsxio"
)

type app struct {
	cfg      config.Config
	layout   xlsxio.Layout
	settings adjust.Settings
	ev       *engine.Evaluator
	st       *store.Store
	q        *queue.Queue
	m        *metrics.Metrics

	pending      sync.WaitGroup
	backfillDone chan backfill.Summary
	inFlight     sync.Map // workbook path -> struct{}
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		log.Fatalf("ensure work dir: %v", err)
	}
	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			log.Fatalf("ensure output dir: %v", err)
		}
	}

	settings, err := parseSettings(cfg.Adjust)
	if err != nil {
		log.Fatalf("adjust settings: %v", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer st.Close()

	a := &app{
		cfg:          cfg,
		layout:       xlsxio.DefaultLayout(),
		settings:     settings,
		ev:           engine.New(uint32(cfg.Adjust.PrecisionDigits)),
		st:           st,
		q:            queue.New(cfg.JobQueueSize, cfg.WorkerCount, time.Duration(cfg.JobTimeoutSec)*time.Second),
		m:            metrics.New(),
		backfillDone: make(chan backfill.Summary, 1),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.q.Start(ctx)
	backfill.Run(ctx, a, cfg.JobQueueSize)

	if cfg.Watch {
		a.runWatch(ctx)
	} else {
		a.runBatch(ctx)
	}

	snap := a.m.Snapshot()
	log.Printf("shutdown: workbooks=%d failed=%d points converged=%d unconverged=%d failed=%d",
		snap.ProcessedWorkbooks, snap.FailedWorkbooks, snap.PointsConverged, snap.PointsUnconverged, snap.PointsFailed)
}

// runBatch processes the startup scan and exits once the queue drains.
func (a *app) runBatch(ctx context.Context) {
	select {
	case summary := <-a.backfillDone:
		if summary.Selected == 0 {
			log.Printf("no workbooks to process in %s", a.cfg.InputDir)
		}
	case <-ctx.Done():
	}

	done := make(chan struct{})
	go func() {
		a.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.q.Stop(stopCtx)
}

// runWatch keeps the service alive, enqueueing workbooks as they appear.
func (a *app) runWatch(ctx context.Context) {
	w := watch.New(a.cfg.InputDir, func(path string) {
		if err := a.enqueueWorkbook(ctx, path); err != nil {
			log.Printf("enqueue %s: %v", filepath.Base(path), err)
		}
	})
	if err := w.Start(ctx); err != nil {
		log.Fatalf("watcher: %v", err)
	}
	log.Printf("watching %s (workers=%d queue=%d)", a.cfg.InputDir, a.cfg.WorkerCount, a.cfg.JobQueueSize)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			a.q.Stop(stopCtx)
			return
		case <-ticker.C:
			stats := a.q.Stats()
			a.m.UpdateQueue(stats.Length, stats.Capacity, stats.WorkerCount)
			snap := a.m.Snapshot()
			log.Printf("queue=%d/%d workbooks=%d failed=%d", snap.QueueLength, snap.QueueCapacity,
				snap.ProcessedWorkbooks, snap.FailedWorkbooks)
		}
	}
}

// ListCandidates implements backfill.Repository over the input directory,
// marking workbooks that already have a completed run.
func (a *app) ListCandidates(ctx context.Context) ([]backfill.Record, error) {
	entries, err := filepath.Glob(filepath.Join(a.cfg.InputDir, "*.xlsx"))
	if err != nil {
		return nil, err
	}
	done, err := a.st.DoneWorkbooks(ctx)
	if err != nil {
		return nil, err
	}

	var records []backfill.Record
	for _, path := range entries {
		if !watch.IsWorkbook(path) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		rec := backfill.Record{
			Workbook:  filepath.Base(path),
			Path:      path,
			ModTime:   info.ModTime(),
			SizeBytes: info.Size(),
			Status:    backfill.StatusQueued,
		}
		if done[rec.Workbook] {
			rec.Status = backfill.StatusDone
		}
		records = append(records, rec)
	}
	return records, nil
}

// QueueRecord implements backfill.Repository.
func (a *app) QueueRecord(ctx context.Context, rec backfill.Record) (backfill.EnqueueResult, error) {
	if err := a.enqueueWorkbook(ctx, rec.Path); err != nil {
		return backfill.EnqueueResult{DroppedFull: true}, nil
	}
	return backfill.EnqueueResult{Enqueued: true}, nil
}

// OnBackfillComplete implements backfill.Repository.
func (a *app) OnBackfillComplete(summary backfill.Summary) {
	select {
	case a.backfillDone <- summary:
	default:
	}
}

func (a *app) enqueueWorkbook(ctx context.Context, path string) error {
	if _, busy := a.inFlight.LoadOrStore(path, struct{}{}); busy {
		return fmt.Errorf("workbook already queued")
	}

	runID := uuid.NewString()
	workbook := filepath.Base(path)
	if err := a.st.CreateRun(ctx, runID, workbook, time.Now().UTC()); err != nil {
		a.inFlight.Delete(path)
		return fmt.Errorf("create run: %w", err)
	}

	a.pending.Add(1)
	job := queue.Job{
		RunID:    runID,
		Workbook: workbook,
		Work: func(jobCtx context.Context) error {
			return a.processWorkbook(jobCtx, runID, path)
		},
		OnFinish: func(err error) {
			a.inFlight.Delete(path)
			a.m.RecordWorkbook(err)
			a.pending.Done()
		},
	}
	if enqueued, _ := a.q.EnqueueWithRetry(ctx, job, 5*time.Second, 250*time.Millisecond); !enqueued {
		a.inFlight.Delete(path)
		a.pending.Done()
		errMsg := "job queue full"
		_ = a.st.MarkRunError(ctx, runID, errMsg, time.Now().UTC())
		return fmt.Errorf("%s", errMsg)
	}
	return nil
}

// processWorkbook runs the full pipeline for one workbook: parse, adjust
// every point, write the corrected copy, persist outcomes, emit the report.
func (a *app) processWorkbook(ctx context.Context, runID, path string) error {
	now := func() time.Time { return time.Now().UTC() }
	workbook := filepath.Base(path)

	if err := a.st.MarkRunStarted(ctx, runID, now()); err != nil {
		return fmt.Errorf("mark started: %w", err)
	}

	wb, err := xlsxio.Read(path, a.layout)
	if err != nil {
		_ = a.st.MarkRunError(ctx, runID, err.Error(), now())
		return err
	}
	log.Printf("run=%s workbook=%s points=%d mode=%q", runID, workbook, len(wb.Points), wb.Constants.Mode)

	results := adjust.Run(a.ev, wb.Constants, wb.Points, a.settings)

	var corrected []engine.Point
	var okCount, unconverged, failed int
	for _, res := range results {
		switch res.Status {
		case adjust.PointFailed:
			failed++
		case adjust.PointOK:
			okCount++
			corrected = append(corrected, res.Corrected)
		default:
			unconverged++
			corrected = append(corrected, res.Corrected)
		}
		if err := a.savePoint(ctx, runID, res); err != nil {
			log.Printf("run=%s save point %d: %v", runID, res.Number, err)
		}
	}
	a.m.RecordPoints(okCount, unconverged, failed)

	outPath := xlsxio.CorrectedPath(path)
	if a.cfg.OutputDir != "" {
		outPath = filepath.Join(a.cfg.OutputDir, filepath.Base(outPath))
	}
	if err := xlsxio.WriteCorrected(path, outPath, a.layout, corrected); err != nil {
		_ = a.st.MarkRunError(ctx, runID, err.Error(), now())
		return err
	}

	rep := report.Build(runID, workbook, a.settings, results)
	reportPath := filepath.Join(a.cfg.WorkDir, runID+".json")
	if err := rep.WriteJSON(reportPath); err != nil {
		_ = a.st.MarkRunError(ctx, runID, err.Error(), now())
		return err
	}
	log.Printf("run=%s %s", runID, rep.Summary())

	if err := a.st.MarkRunDone(ctx, runID, len(results), okCount, outPath, reportPath, now()); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	if failed > 0 || unconverged > 0 {
		return fmt.Errorf("%d of %d points did not fully converge", failed+unconverged, len(results))
	}
	return nil
}

func (a *app) savePoint(ctx context.Context, runID string, res adjust.PointResult) error {
	rec := &store.PointRecord{
		RunID:     runID,
		Point:     res.Number,
		Status:    string(res.Status),
		CreatedAt: time.Now().UTC(),
	}
	if res.Status == adjust.PointFailed {
		if res.Err != nil {
			rec.Detail = res.Err.Error()
		}
	} else {
		rec.UnifiedTime = res.Solution.UnifiedTime.String()
		rec.MasterPulses = res.Solution.MasterPulses.String()
		rec.Cost = res.Solution.Cost.String()
		rec.Iterations = res.Solution.Iterations
	}
	return a.st.SavePointResult(ctx, rec)
}

// parseSettings converts the string-typed config block into decimal search
// settings at full precision.
func parseSettings(c config.AdjustConfig) (adjust.Settings, error) {
	parse := func(name, value string) (*apd.Decimal, error) {
		v, _, err := apd.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("%s: bad decimal %q", name, value)
		}
		return v, nil
	}

	var (
		s   adjust.Settings
		err error
	)
	if s.TargetTime, err = parse("target_time", c.TargetTime); err != nil {
		return s, err
	}
	if s.BandMin, err = parse("band_min", c.BandMin); err != nil {
		return s, err
	}
	if s.BandMax, err = parse("band_max", c.BandMax); err != nil {
		return s, err
	}
	if s.Tolerance, err = parse("tolerance", c.Tolerance); err != nil {
		return s, err
	}
	if s.TimeStep, err = parse("time_step", c.TimeStep); err != nil {
		return s, err
	}
	s.MaxIterations = c.MaxIterations
	s.MasterIndex = c.MasterIndex

	switch c.Strategy {
	case "grid":
		s.Strategy = adjust.StrategyGrid
	case "timestep":
		s.Strategy = adjust.StrategyTimeStep
	case "descent", "":
		s.Strategy = adjust.StrategyDescent
	default:
		return s, fmt.Errorf("strategy %q not recognized", c.Strategy)
	}
	return s, nil
}
