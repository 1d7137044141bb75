package bridge

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/onnwee/nomi-bridge/db"
	"github.com/onnwee/nomi-bridge/telemetry"
)

// StartPollJob runs poll passes on a fixed interval until ctx is canceled.
// The first pass runs immediately. Passes never overlap: the orchestrator
// rejects concurrent runs, and a skipped tick is logged and counted rather
// than queued.
func StartPollJob(ctx context.Context, orch *Orchestrator, dbc *sql.DB, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	slog.Info("poll job starting", slog.Duration("interval", interval))

	runPass := func() {
		db.SetJobTimestamp(ctx, dbc, "job_poll_last")
		var rep Report
		var err error
		d := telemetry.TimeFunc(telemetry.PollPassDuration, func() {
			rep, err = orch.RunPollPass(ctx)
		})
		if errors.Is(err, ErrPollInProgress) {
			slog.Warn("poll tick skipped: previous pass still running")
			return
		}
		if err != nil {
			slog.Warn("poll pass failed", slog.Any("err", err))
			return
		}
		slog.Info("poll pass complete",
			slog.Int("checked", rep.TotalCharactersChecked),
			slog.Int("found", rep.MessagesFound),
			slog.Int("processed", rep.MessagesProcessed),
			slog.Int("errors", len(rep.Errors)),
			slog.Duration("took", d))
	}

	runPass()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("poll job stopped")
			return
		case <-ticker.C:
			runPass()
		}
	}
}
