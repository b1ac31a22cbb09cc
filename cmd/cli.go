package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/MimeLyc/vision2voice/internal/apperr"
	"github.com/MimeLyc/vision2voice/internal/config"
	"github.com/MimeLyc/vision2voice/internal/history"
	"github.com/MimeLyc/vision2voice/internal/httpapi"
	"github.com/MimeLyc/vision2voice/internal/jobs"
	"github.com/MimeLyc/vision2voice/internal/pipeline"
	"github.com/MimeLyc/vision2voice/internal/session"
	"github.com/MimeLyc/vision2voice/internal/settings"
	"github.com/MimeLyc/vision2voice/pkg/log"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
)

type cliApp struct {
	out io.Writer
	cfg *config.Config
}

// newCLIApp creates the CLI application with all commands. Output goes to out.
func newCLIApp(out io.Writer) *cli.App {
	a := &cliApp{out: out}
	app := &cli.App{
		Name:    "vision2voice",
		Usage:   "Image captions read aloud, with a local history",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api-url", Usage: "Base URL of the caption service", EnvVars: []string{"API_BASE_URL"}},
			&cli.StringFlag{Name: "data-dir", Usage: "Directory of the sqlite history", EnvVars: []string{"DATA_DIR"}},
			&cli.StringFlag{Name: "backend", Usage: "History backend: sqlite|redis", EnvVars: []string{"HISTORY_BACKEND"}},
		},
		Before: a.loadConfig,
		Commands: []*cli.Command{
			a.serveCmd(),
			a.captionCmd(),
			a.historyCmd(),
			a.healthCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func (a *cliApp) loadConfig(c *cli.Context) error {
	cfg, err := config.NewFromEnv(
		config.WithAPIBaseURL(c.String("api-url")),
		config.WithDataDir(c.String("data-dir")),
		config.WithBackend(c.String("backend")),
	)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), 1)
	}
	log.GetLogger().SetLevel(log.ParseLevel(cfg.System.LogLevel))
	a.cfg = cfg
	return nil
}

func (a *cliApp) open(ctx context.Context) (*components, error) {
	comps, err := openComponents(ctx, a.cfg)
	if err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}
	return comps, nil
}

func (a *cliApp) serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, the run queue and the history sweep",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			comps, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer comps.Close()

			settingsStore, err := settings.Open(a.cfg.System.SettingsFile)
			if err != nil {
				return cli.Exit(fmt.Sprintf("open settings: %v", err), 1)
			}

			sched := cron.New()
			sweeper := history.NewSweeper(comps.store, sched, a.cfg.History.SweepCron)

			queue := jobs.NewQueue(a.cfg.Pipeline.Workers)
			srv := httpapi.NewServer(queue, session.New(), comps.store,
				httpapi.WithUI(a.cfg.HTTP.UIStaticDir, a.cfg.HTTP.UIEnabled),
				httpapi.WithSettingsStore(settingsStore),
				httpapi.WithRemoteHealth(comps.client),
				httpapi.WithSweeper(sweeper),
				httpapi.WithDefaultLanguage(a.cfg.Pipeline.DefaultLanguage),
			)
			queue.Start(jobs.PipelineExecutor(comps.orch))
			defer queue.Stop()

			return runWithComponents(ctx, a.cfg, sweeper, sched, srv)
		},
	}
}

type captionOutput struct {
	Caption          string              `json:"caption"`
	OriginalCaption  string              `json:"original_caption"`
	Language         string              `json:"language"`
	DetectedLanguage string              `json:"detected_language,omitempty"`
	RecordID         int64               `json:"record_id"`
	AudioFile        string              `json:"audio_file,omitempty"`
	Degraded         bool                `json:"degraded"`
	Translation      pipeline.StepResult `json:"translation"`
	Synthesis        pipeline.StepResult `json:"synthesis"`
	Persistence      pipeline.StepResult `json:"persistence"`
}

func (a *cliApp) captionCmd() *cli.Command {
	return &cli.Command{
		Name:      "caption",
		Usage:     "Caption one image, synthesize speech and save it to history",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "language", Aliases: []string{"l"}, Usage: "Target language code"},
			&cli.StringFlag{Name: "audio-out", Aliases: []string{"o"}, Usage: "Write the synthesized audio to this file"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("exactly one image file is required", 1)
			}
			path := c.Args().First()
			data, err := os.ReadFile(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("read image: %v", err), 1)
			}

			lang := c.String("language")
			if lang == "" {
				lang = a.cfg.Pipeline.DefaultLanguage
			}

			comps, err := a.open(c.Context)
			if err != nil {
				return err
			}
			defer comps.Close()

			outcome, err := comps.orch.Run(c.Context, pipeline.Request{
				Image:       data,
				Filename:    filepath.Base(path),
				ContentType: mime.TypeByExtension(filepath.Ext(path)),
				Language:    lang,
			}, pipeline.WithAnnouncements(func(msg string) {
				log.Info("%s", msg)
			}))
			if err != nil {
				return outputError(err)
			}

			out := captionOutput{
				Caption:          outcome.Caption,
				OriginalCaption:  outcome.OriginalCaption,
				Language:         outcome.Language,
				DetectedLanguage: outcome.DetectedLanguage,
				RecordID:         outcome.RecordID,
				Degraded:         outcome.Degraded(),
				Translation:      outcome.Translation,
				Synthesis:        outcome.Synthesis,
				Persistence:      outcome.Persistence,
			}
			if dst := c.String("audio-out"); dst != "" && outcome.HasAudio() {
				if err := os.WriteFile(dst, outcome.Audio, 0o644); err != nil {
					return cli.Exit(fmt.Sprintf("write audio: %v", err), 1)
				}
				out.AudioFile = dst
			}
			return a.outputJSON(out)
		},
	}
}

type historyLine struct {
	ID        int64     `json:"id"`
	Caption   string    `json:"caption"`
	Language  string    `json:"language"`
	HasAudio  bool      `json:"has_audio"`
	Timestamp time.Time `json:"timestamp"`
	Remaining string    `json:"remaining"`
}

func (a *cliApp) historyCmd() *cli.Command {
	withStore := func(fn func(c *cli.Context, store history.Store) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			comps, err := a.open(c.Context)
			if err != nil {
				return err
			}
			defer comps.Close()
			return fn(c, comps.store)
		}
	}

	return &cli.Command{
		Name:  "history",
		Usage: "Inspect and manage saved results",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List records that have not expired, newest first",
				Action: withStore(func(c *cli.Context, store history.Store) error {
					records, err := store.ListAll(c.Context)
					if err != nil {
						return outputError(err)
					}
					now := time.Now()
					lines := make([]historyLine, 0, len(records))
					for _, rec := range history.Live(records, now) {
						lines = append(lines, historyLine{
							ID:        rec.ID,
							Caption:   rec.Caption,
							Language:  rec.Language,
							HasAudio:  rec.HasAudio(),
							Timestamp: rec.Timestamp,
							Remaining: history.RemainingTime(rec.Timestamp, now),
						})
					}
					return a.outputJSON(lines)
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete one record",
				ArgsUsage: "ID",
				Action: withStore(func(c *cli.Context, store history.Store) error {
					id, err := strconv.ParseInt(c.Args().First(), 10, 64)
					if err != nil || id <= 0 {
						return cli.Exit("a numeric record id is required", 1)
					}
					removed, err := store.DeleteOne(c.Context, id)
					if err != nil {
						return outputError(err)
					}
					return a.outputJSON(map[string]any{"id": id, "deleted": removed})
				}),
			},
			{
				Name:  "clear",
				Usage: "Delete every record",
				Action: withStore(func(c *cli.Context, store history.Store) error {
					if err := store.DeleteAll(c.Context); err != nil {
						return outputError(err)
					}
					return a.outputJSON(map[string]any{"cleared": true})
				}),
			},
			{
				Name:  "sweep",
				Usage: "Remove expired records now",
				Action: withStore(func(c *cli.Context, store history.Store) error {
					removed, err := history.NewSweeper(store, nil, a.cfg.History.SweepCron).RunOnce(c.Context)
					if err != nil {
						return outputError(err)
					}
					return a.outputJSON(map[string]any{"removed": removed})
				}),
			},
		},
	}
}

func (a *cliApp) healthCmd() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check the history store and the remote caption service",
		Action: func(c *cli.Context) error {
			comps, err := a.open(c.Context)
			if err != nil {
				return err
			}
			defer comps.Close()

			ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
			defer cancel()

			result := map[string]any{"store": "ok"}
			if err := history.Ping(ctx, comps.store); err != nil {
				result["store"] = err.Error()
			}
			remote, err := comps.client.Health(ctx)
			if err != nil {
				result["remote"] = map[string]any{"error": apperr.UserMessage(err)}
				if encErr := a.outputJSON(result); encErr != nil {
					return encErr
				}
				return outputError(err)
			}
			result["remote"] = remote
			return a.outputJSON(result)
		},
	}
}

// outputJSON writes v as indented JSON.
func (a *cliApp) outputJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if appErr, ok := apperr.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", appErr.Type, apperr.UserMessage(appErr)), 1)
	}
	return cli.Exit(err.Error(), 1)
}
