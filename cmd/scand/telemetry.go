package main

import (
	"context"
	"log/slog"

	"github.com/scrollDynasty/softforlogic-sub000/lib/restyutil"
	"github.com/scrollDynasty/softforlogic-sub000/lib/serviceutil"
	"github.com/scrollDynasty/softforlogic-sub000/lib/telemetry"
	"github.com/scrollDynasty/softforlogic-sub000/services/loadboard"
	"github.com/scrollDynasty/softforlogic-sub000/services/notify"
)

func InitTelemetry(ctx context.Context, verbose bool) {
	telemetry.InitSlog(verbose)

	if verbose {
		slog.DebugContext(ctx, "verbose logging enabled")
	}

	err := telemetry.SetupFromEnv(ctx, "scand")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	go func() {
		<-ctx.Done()
		telemetry.Shutdown(context.Background())
	}()
	telemetry.InstrumentPerfStats(ctx)

	if !verbose {
		return
	}

	loadboard.SetRestyInstrumentOutput(
		restyutil.NewFilesystemOutput(".dev/resty/loadboard"),
	)
	notify.SetRestyInstrumentOutput(
		restyutil.NewFilesystemOutput(".dev/resty/telegram"),
	)
}
