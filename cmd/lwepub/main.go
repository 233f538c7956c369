package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"lwepub/cmd/lwepub/commands"
	"lwepub/lib/serviceutil"
	"lwepub/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "lwepub")
	if err == nil {
		defer tel.Shutdown(context.Background())
		telemetry.InstrumentPerfStats(ctx)
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to set up telemetry", "err", err)
	}

	commands.ExecuteContext(ctx)
}
