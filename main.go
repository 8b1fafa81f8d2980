package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/ss2dbx/server/internal/core"
	errx "github.com/ss2dbx/server/internal/core/error"
	"github.com/ss2dbx/server/internal/migration/graph"
	"github.com/ss2dbx/server/internal/migration/model"
	"github.com/ss2dbx/server/internal/migration/workflow"
	"github.com/ss2dbx/server/internal/repo"
	logx "github.com/ss2dbx/server/pkg/logger"
	pkgredis "github.com/ss2dbx/server/pkg/redis"
	pkgsqlite "github.com/ss2dbx/server/pkg/sqlite"
)

// AppConfig defines all configurable parameters of the assistant,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string           `envconfig:"LOG_LEVEL"`
	SessionID   string           `envconfig:"SESSION_ID" default:"default"`

	// Infrastructure
	Redis  pkgredis.Config
	SQLite pkgsqlite.Config

	// LLM provider
	Completion model.CompletionConfig

	// Stage configs
	Stage1  model.Stage1ModelConfig
	Stage2  model.Stage2ModelConfig
	Stage3  model.Stage3ModelConfig
	Prompt  model.PromptConfig
	Session model.SessionConfig
}

// Session store kinds selected by SESSION_STORE.
const (
	storeSQLite = "sqlite"
	storeRedis  = "redis"
	storeMemory = "memory"
)

type app struct {
	cfg       AppConfig
	envFile   string
	sessionID string

	store   model.SessionRepository
	closers []func() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", userMessage(err))
		logx.Debug().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ss2dbx",
		Short: "StreamSets to Databricks migration assistant",
		Long: `ss2dbx walks a StreamSets pipeline export through three LLM stages:

  1. Parse & Visualize    summarise the pipeline and prefill the Stage 2 fields
  2. Databricks Alignment design the target table and mapping from those fields
  3. Generate Notebook    produce a Databricks notebook from the Stage 2 design

Every command acts on one session (--session). Sessions are kept in SQLite by
default, or in Redis when SESSION_STORE=redis.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.sessionID, "session", "", "Session id (or set SESSION_ID env)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Environment file to load before reading config")

	root.AddCommand(
		newSessionCmd(a),
		newStage1Cmd(a),
		newFieldsCmd(a),
		newStage2Cmd(a),
		newStage3Cmd(a),
		newShowCmd(a),
		newExportCmd(a),
		newHistoryCmd(a),
		newResetCmd(a),
		newServeCmd(a),
	)
	return root
}

// load reads .env and the environment into a.cfg and initialises logging.
func (a *app) load(cmd *cobra.Command) error {
	envErr := godotenv.Load(a.envFile)
	if envErr != nil && cmd.Flags().Changed("env-file") {
		return fmt.Errorf("load env file %s: %w", a.envFile, envErr)
	}

	if err := envconfig.Process("", &a.cfg); err != nil {
		return fmt.Errorf("process environment config: %w", err)
	}

	logx.Init(logx.LoggerOpts{
		Environment: a.cfg.Environment,
		Output:      cmd.ErrOrStderr(),
		Level:       a.cfg.LogLevel,
	})
	if envErr != nil {
		logx.Debug().Err(envErr).Msg("Could not load env file")
	}

	if a.sessionID == "" {
		a.sessionID = a.cfg.SessionID
	}
	return nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logx.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	a.closers = nil
}

// openStore connects the session repository selected by SESSION_STORE.
func (a *app) openStore(ctx context.Context) (model.SessionRepository, error) {
	if a.store != nil {
		return a.store, nil
	}

	switch kind := strings.ToLower(strings.TrimSpace(a.cfg.Session.Store)); kind {
	case storeRedis:
		rdb, err := a.cfg.Redis.New(ctx)
		if err != nil {
			return nil, errx.WrapRedis(err)
		}
		a.onClose(rdb.Close)
		a.store = repo.NewRedisSessionRepository(rdb, a.cfg.Session.TTL)
	case storeSQLite, "":
		db, err := a.cfg.SQLite.New(ctx)
		if err != nil {
			return nil, errx.WrapStorage(err)
		}
		a.onClose(db.Close)
		store, err := repo.NewSQLiteSessionRepository(ctx, db)
		if err != nil {
			return nil, err
		}
		a.store = store
	case storeMemory:
		a.store = repo.NewMemorySessionRepository()
	default:
		return nil, errx.Validation(fmt.Sprintf("unknown SESSION_STORE %q (use sqlite, redis or memory)", kind))
	}

	logx.Debug().Str("store", a.cfg.Session.Store).Msg("Session store ready")
	return a.store, nil
}

func (a *app) workflowConfig() workflow.Config {
	return workflow.Config{
		Stage1:             a.cfg.Stage1.Params(),
		Stage2:             a.cfg.Stage2.Params(),
		Stage3:             a.cfg.Stage3.Params(),
		AttachmentMaxChars: a.cfg.Prompt.AttachmentMaxChars,
	}
}

// service builds the stage service. withRunner builds the stage graph too,
// which needs a completion API key; read-only commands skip it.
func (a *app) service(ctx context.Context, withRunner bool) (*workflow.Service, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	var runner graph.Runner
	if withRunner {
		runner, err = graph.BuildRunner(ctx, graph.Config{
			Completion: a.cfg.Completion,
			Prompt:     a.cfg.Prompt,
			Defaults:   a.cfg.Stage1.Params(),
		})
		if err != nil {
			return nil, err
		}
	}
	return workflow.NewService(runner, store, a.workflowConfig()), nil
}

// userMessage keeps AppError internals out of the terminal. Other errors come
// from flag parsing or local files and are shown as is.
func userMessage(err error) string {
	var appErr *errx.AppError
	if errors.As(err, &appErr) {
		return errx.MessageOf(err)
	}
	return err.Error()
}
