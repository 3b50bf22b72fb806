package cli

import (
	"context"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/sysmoni/internal/config"
	"github.com/Dicklesworthstone/sysmoni/internal/engine"
	"github.com/Dicklesworthstone/sysmoni/internal/errors"
	"github.com/Dicklesworthstone/sysmoni/internal/export"
	"github.com/Dicklesworthstone/sysmoni/internal/logging"
	"github.com/Dicklesworthstone/sysmoni/internal/sampler"
	"github.com/Dicklesworthstone/sysmoni/internal/ui"
)

// newSource opens the OS metrics source. Tests replace it with a scripted one.
var newSource = func(ctx context.Context, opts sampler.Options) (sampler.MetricsSource, error) {
	return sampler.NewSystem(ctx, opts)
}

// isTerminal reports whether w is an interactive terminal.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func run(ctx context.Context, cfg config.Config, out io.Writer) error {
	exporting := cfg.JSON || cfg.JSONStream
	if !exporting && !isTerminal(out) {
		return errors.New(errors.ErrOutput,
			"Standard output is not a terminal",
			"Use --json or --json-stream when piping sysmoni into another program.")
	}

	logFile := cfg.LogFile
	if logFile == "" && !exporting {
		logFile = logging.DefaultFile()
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: logFile})
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't set up logging",
			"Check --log-level, or point --log-file at a writable path.")
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("-------- new sysmoni session --------",
		zap.String("version", version),
		zap.Duration("interval", cfg.PollInterval),
		zap.Bool("json", cfg.JSON),
		zap.Bool("json_stream", cfg.JSONStream))

	src, err := newSource(ctx, sampler.Options{
		EnableGPU:        cfg.EnableGPU,
		EnableBatt:       cfg.EnableBatt,
		CPUTotalRelative: cfg.CPUTotalRelative,
		Logger:           logger.Named("sampler"),
	})
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrSource,
			"Couldn't read system metrics",
			"sysmoni needs read access to /proc and /sys; check the container or sandbox settings.")
	}

	eng, err := engine.New(src, engine.OptionsFromConfig(cfg, logger))
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Couldn't start the monitor", "Fix the initial filter or view settings.")
	}
	eng.Start(ctx)

	err = dispatch(ctx, eng, cfg, out, logger)
	if serr := shutdown(ctx, eng, cfg.ShutdownGrace); serr != nil {
		logger.Warn("shutdown incomplete", zap.Error(serr))
		if err == nil {
			err = serr
		}
	}
	return err
}

func dispatch(ctx context.Context, eng *engine.Engine, cfg config.Config, out io.Writer, logger *zap.Logger) error {
	opts := export.Options{Unit: cfg.TempUnit()}
	switch {
	case cfg.JSON:
		snap, err := eng.Wait(ctx, 0)
		if err != nil {
			return err
		}
		if err := export.Write(out, snap, export.Format(cfg.Format), opts); err != nil {
			return errors.WrapWithCode(err, errors.ErrOutput, "Couldn't write the snapshot", "Check that stdout is writable.")
		}
		return nil
	case cfg.JSONStream:
		if err := export.Stream(ctx, eng, out, opts); err != nil {
			return errors.WrapWithCode(err, errors.ErrOutput, "Stream output failed", "The reader on the other end of the pipe may have exited.")
		}
		return nil
	}
	return ui.Run(ctx, eng, ui.Options{
		RenderInterval: cfg.RenderInterval,
		Unit:           cfg.TempUnit(),
		Logger:         logger.Named("ui"),
	})
}

// shutdown stops the engine. It runs after ctx may already be cancelled, so
// it gets its own deadline: the poll grace plus a little slack.
func shutdown(ctx context.Context, eng *engine.Engine, grace time.Duration) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace+time.Second)
	defer cancel()
	return eng.Shutdown(sctx)
}
