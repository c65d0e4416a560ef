package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/chirpkeep/internal/authority"
	"github.com/hpungsan/chirpkeep/internal/config"
	"github.com/hpungsan/chirpkeep/internal/db"
	"github.com/hpungsan/chirpkeep/internal/errors"
	"github.com/hpungsan/chirpkeep/internal/metrics"
	"github.com/hpungsan/chirpkeep/internal/scheduler"
	"github.com/hpungsan/chirpkeep/internal/session"
	"github.com/hpungsan/chirpkeep/internal/web"
)

// StatusOutput is printed by the status command.
type StatusOutput struct {
	Account              string         `json:"account"`
	CACertPath           string         `json:"ca_cert_path"`
	Rows                 map[string]int `json:"rows"`
	PendingConversations []string       `json:"pending_conversations"`
}

// IndexOutput is printed by the index command.
type IndexOutput struct {
	Loaded   int              `json:"loaded"`
	Passes   int              `json:"passes"`
	Progress session.Progress `json:"progress"`
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(baseDir string, cfg *config.Config, logger zerolog.Logger) *cli.App {
	app := &cli.App{
		Name:    "chirpkeep",
		Usage:   "Archive your own timeline, likes, bookmarks and DMs from captured traffic",
		Version: Version,
		Commands: []*cli.Command{
			captureCmd(baseDir, cfg, logger),
			indexCmd(baseDir, cfg, logger),
			statusCmd(baseDir, cfg, logger),
			migrationsCmd(baseDir, cfg, logger),
			caCmd(baseDir),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

var accountFlag = &cli.StringFlag{
	Name:    "account",
	Aliases: []string{"a"},
	Usage:   "Account key (one store per account)",
	EnvVars: []string{"CHIRPKEEP_ACCOUNT"},
	Value:   defaultAccount,
}

// captureCmd creates the capture command.
func captureCmd(baseDir string, cfg *config.Config, logger zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Run the capture proxy and index captured responses until interrupted",
		Flags: []cli.Flag{
			accountFlag,
			&cli.StringSliceFlag{Name: "filter", Aliases: []string{"f"}, Usage: "Capture filter glob (repeatable; defaults to the configured filters)"},
			&cli.StringFlag{Name: "listen", Usage: "Proxy listen address", Value: "127.0.0.1:0"},
			&cli.StringFlag{Name: "schedule", Usage: "Cron expression for index passes", Value: cfg.IndexSchedule},
			&cli.StringFlag{Name: "web", Usage: "Status/metrics server address (empty disables)", Value: cfg.MetricsAddr},
			&cli.StringFlag{Name: "record", Usage: "Write the capture buffer to this JSONL file on exit"},
			&cli.StringFlag{Name: "resume", Usage: "Load a recorded capture into the buffer before the first pass"},
		},
		Action: func(c *cli.Context) error {
			schedule := c.String("schedule")
			if err := scheduler.ValidateSchedule(schedule); err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			webAddr := c.String("web")
			recorder, registry := metrics.New(webAddr != "")

			sess, err := session.Open(baseDir, c.String("account"), cfg, logger, session.Options{
				Metrics:    recorder,
				ListenAddr: c.String("listen"),
			})
			if err != nil {
				return outputError(err)
			}
			defer sess.Close()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := sess.StartCapture(ctx, c.StringSlice("filter")); err != nil {
				return outputError(err)
			}
			sess.StartMonitoring()
			if path := c.String("resume"); path != "" {
				if _, err := sess.LoadRecording(path); err != nil {
					_ = sess.StopCapture(context.Background())
					return outputError(errors.NewInvalidRequest(fmt.Sprintf("load %s: %v", path, err)))
				}
			}

			sched := scheduler.New(sess, func(p session.Progress, err error) {
				if err == nil && !p.MoreDataAvailable {
					logger.Info().Int("posts", p.Posts()).Int("messages", p.Messages).Msg("end of data reached; keep scrolling other views or stop the capture")
				}
			}, logger)
			if err := sched.Start(ctx, schedule); err != nil {
				_ = sess.StopCapture(context.Background())
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			webErr := make(chan error, 1)
			if webAddr != "" {
				srv, err := web.NewServer(sess, registry, Version, webAddr, logger)
				if err != nil {
					sched.Stop()
					_ = sess.StopCapture(context.Background())
					return outputError(errors.NewInternal(err))
				}
				go func() { webErr <- web.Run(ctx, srv, logger) }()
			}

			select {
			case <-ctx.Done():
			case <-sched.Halted():
			case err := <-webErr:
				if err != nil {
					logger.Error().Err(err).Msg("status server stopped")
				}
				select {
				case <-ctx.Done():
				case <-sched.Halted():
				}
			}

			sched.Stop()
			sess.StopMonitoring()
			if err := sess.StopCapture(context.Background()); err != nil {
				logger.Error().Err(err).Msg("stop capture")
			}

			haltErr := sched.Err()
			progress := sess.Progress()
			if haltErr == nil {
				// Drain what arrived after the last tick.
				progress, err = sess.ClassifyAndIndexNext(context.Background())
				if errors.Is(err, errors.ErrShapeMismatch) {
					haltErr = err
				} else if err != nil {
					logger.Warn().Err(err).Msg("final index pass")
				}
			}

			if path := c.String("record"); path != "" {
				if err := sess.SaveRecording(path); err != nil {
					return outputError(errors.NewInternal(err))
				}
			}

			if haltErr != nil {
				return outputError(haltErr)
			}
			return outputJSON(progress)
		},
	}
}

// indexCmd creates the index command.
func indexCmd(baseDir string, cfg *config.Config, logger zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Index a recorded capture file into the account store",
		Flags: []cli.Flag{
			accountFlag,
			&cli.StringFlag{Name: "from", Usage: "Recorded capture (JSONL) written by capture --record", Required: true},
		},
		Action: func(c *cli.Context) error {
			sess, err := session.Open(baseDir, c.String("account"), cfg, logger, session.Options{})
			if err != nil {
				return outputError(err)
			}
			defer sess.Close()

			loaded, err := sess.LoadRecording(c.String("from"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("load %s: %v", c.String("from"), err)))
			}
			sess.ResetProgress()

			out, err := drain(c.Context, sess, logger)
			if err != nil {
				return outputError(err)
			}
			out.Loaded = loaded
			return outputJSON(out)
		},
	}
}

// drain runs passes until the buffer is empty or the session is rate
// limited. A response with an unrecognized shape ends the job with its
// SHAPE_MISMATCH error.
func drain(ctx context.Context, sess *session.Session, logger zerolog.Logger) (IndexOutput, error) {
	var out IndexOutput
	for {
		progress, err := sess.ClassifyAndIndexNext(ctx)
		out.Passes++
		out.Progress = progress
		if err != nil {
			return out, err
		}

		if progress.RateLimit.IsRateLimited {
			logger.Warn().Int64("reset_epoch", progress.RateLimit.ResetEpochSeconds).Msg("rate limited; stopping")
			return out, nil
		}
		if progress.Unprocessed == 0 {
			return out, nil
		}
	}
}

// statusCmd creates the status command.
func statusCmd(baseDir string, cfg *config.Config, logger zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show row counts and conversations still waiting for messages",
		Flags: []cli.Flag{accountFlag},
		Action: func(c *cli.Context) error {
			sess, err := session.Open(baseDir, c.String("account"), cfg, logger, session.Options{})
			if err != nil {
				return outputError(err)
			}
			defer sess.Close()

			out := StatusOutput{
				Account:    sess.AccountKey(),
				CACertPath: sess.CACertPath(),
				Rows:       make(map[string]int),
			}
			for _, table := range []string{
				db.TablePosts, db.TableMedia, db.TableLinks, db.TableProfiles,
				db.TableConversations, db.TableParticipants, db.TableMessages,
			} {
				n, err := db.Count(c.Context, sess.DB(), table)
				if err != nil {
					return outputError(err)
				}
				out.Rows[table] = n
			}

			out.PendingConversations, err = db.PendingConversations(c.Context, sess.DB())
			if err != nil {
				return outputError(err)
			}
			if out.PendingConversations == nil {
				out.PendingConversations = []string{}
			}
			return outputJSON(out)
		},
	}
}

// migrationsCmd creates the migrations command.
func migrationsCmd(baseDir string, cfg *config.Config, logger zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "migrations",
		Usage: "List the schema migrations applied to the account store",
		Flags: []cli.Flag{accountFlag},
		Action: func(c *cli.Context) error {
			sess, err := session.Open(baseDir, c.String("account"), cfg, logger, session.Options{})
			if err != nil {
				return outputError(err)
			}
			defer sess.Close()

			applied, err := sess.AppliedMigrations(c.Context)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return outputJSON(applied)
		},
	}
}

// caCmd creates the ca command.
func caCmd(baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "ca",
		Usage: "Print the root certificate the browser must trust (created on first use)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "pem", Usage: "Print the PEM certificate instead of its path"},
		},
		Action: func(c *cli.Context) error {
			ca, err := authority.LoadOrCreate(filepath.Join(baseDir, session.CADirName))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if c.Bool("pem") {
				_, err := os.Stdout.Write(ca.CertPEM())
				return err
			}
			return outputJSON(map[string]string{"ca_cert_path": ca.CertPath()})
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var cErr *errors.ChirpError
	if stderrors.As(err, &cErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", cErr.Code, cErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
