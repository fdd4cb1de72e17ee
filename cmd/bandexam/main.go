package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/bandexam/internal/assess"
	"github.com/pavelanni/bandexam/internal/catalog"
	"github.com/pavelanni/bandexam/internal/grading"
	"github.com/pavelanni/bandexam/internal/handler"
	appI18n "github.com/pavelanni/bandexam/internal/i18n"
	"github.com/pavelanni/bandexam/internal/llm"
	"github.com/pavelanni/bandexam/internal/llm/gemini"
	"github.com/pavelanni/bandexam/internal/llm/prompts"
	"github.com/pavelanni/bandexam/internal/model"
	"github.com/pavelanni/bandexam/internal/scoring"
	"github.com/pavelanni/bandexam/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bandexam",
		Short: "Exam attempt scoring server with automatic writing assessment",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd(), hashTokenCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `bandexam --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addDBFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
	f.String("db", "bandexam.db", "SQLite database path or PostgreSQL DSN")
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addDBFlags(cmd)
	f.StringSliceP("exams", "e", nil, "Paths to exam catalog files, JSON or YAML (repeatable)")
	f.String("assessor", "openai", "Writing assessor (openai, gemini, none)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for the OpenAI-compatible endpoint")
	f.String("llm-model", "llama3.2", "Model name for the OpenAI-compatible endpoint")
	f.String("gemini-key", "", "Gemini API key")
	f.String("gemini-model", gemini.DefaultModel, "Gemini model name")
	f.String("prompt-variant", string(prompts.PromptAcademic), "Writing prompt variant (academic, general)")
	f.Duration("assess-delay", time.Second, "Minimum pause between writing assessment calls")
	f.Int("task1-min-words", assess.DefaultTask1MinWords, "Minimum words for the first writing task")
	f.Int("task2-min-words", assess.DefaultTask2MinWords, "Minimum words for later writing tasks")
	f.String("multi-blank-credit", string(scoring.CreditAllOrNothing), "Multi-blank credit policy (all-or-nothing, per-blank)")
	f.StringP("lang", "l", "en", "Report language (en, ru)")
	f.String("teacher-token-hash", "", "bcrypt hash of the teacher bearer token (see hash-token)")
	addLogFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import exam catalog files without starting the server",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addDBFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export attempt results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	addDBFlags(cmd)
	f.String("exam-id", "", "Only export attempts of this exam")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func hashTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Print a bcrypt hash for --teacher-token-hash",
		Long: "Print a bcrypt hash for --teacher-token-hash. Without an argument a random " +
			"token is generated and printed first.",
		Args: cobra.MaximumNArgs(1),
		RunE: runHashToken,
	}
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("BANDEXAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("bandexam")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/bandexam")
	v.AddConfigPath("/etc/bandexam")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	driver, err := store.ParseDriver(v.GetString("db-driver"))
	if err != nil {
		return nil, err
	}
	db, err := store.Open(ctx, driver, v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	cfg := model.Config{
		Task1MinWords:    v.GetInt("task1-min-words"),
		Task2MinWords:    v.GetInt("task2-min-words"),
		MultiBlankCredit: v.GetString("multi-blank-credit"),
		Lang:             v.GetString("lang"),
	}
	policy, err := scoring.ParseCreditPolicy(cfg.MultiBlankCredit)
	if err != nil {
		return err
	}

	if err := appI18n.Init(cfg.Lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	if err := prompts.Load(prompts.Templates); err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	assessor, err := newAssessor(ctx, v)
	if err != nil {
		return err
	}
	coord := assess.NewCoordinator(assessor, assess.Options{
		Delay:         v.GetDuration("assess-delay"),
		Task1MinWords: cfg.Task1MinWords,
		Task2MinWords: cfg.Task2MinWords,
	})
	svc := grading.NewService(db, scoring.NewGrader(policy), coord)

	if err := catalog.Load(ctx, svc, db, v.GetStringSlice("exams")); err != nil {
		return fmt.Errorf("load exams: %w", err)
	}

	tokenHash := v.GetString("teacher-token-hash")
	if tokenHash == "" {
		slog.Warn("no teacher token hash configured, teacher routes are disabled")
	}
	h := handler.New(svc, db, tokenHash)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(cfg.Lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db_driver", db.Driver(),
		"assessor", v.GetString("assessor"),
		"prompt_variant", v.GetString("prompt-variant"),
		"multi_blank_credit", policy,
		"task1_min_words", cfg.Task1MinWords,
		"task2_min_words", cfg.Task2MinWords,
		"lang", cfg.Lang,
	)
	return http.ListenAndServe(addr, r)
}

// newAssessor builds the writing assessor selected by --assessor. A nil
// assessor leaves every writing task for manual review.
func newAssessor(ctx context.Context, v *viper.Viper) (assess.Assessor, error) {
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using academic", "variant", variant)
		variant = string(prompts.PromptAcademic)
	}

	switch name := strings.ToLower(v.GetString("assessor")); name {
	case "openai":
		client := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"),
			prompts.PromptVariant(variant))
		if err := client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
		return client, nil
	case "gemini":
		if v.GetString("gemini-key") == "" {
			slog.Warn("gemini assessor selected without --gemini-key, writing tasks will stay pending")
		}
		return gemini.New(v.GetString("gemini-key"), v.GetString("gemini-model"), prompts.PromptVariant(variant)), nil
	case "none", "":
		slog.Info("automatic writing assessment disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown assessor %q", name)
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := grading.NewService(db, scoring.NewGrader(scoring.CreditAllOrNothing), nil)
	return catalog.Load(ctx, svc, db, args)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportAttempts(ctx, v.GetString("exam-id"))
	if err != nil {
		return fmt.Errorf("export attempts: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("exported attempts", "count", export.NumAttempts, "output", outPath)
	return nil
}

func runHashToken(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	var token string
	if len(args) == 1 {
		token = args[0]
	} else {
		var err error
		token, err = handler.GenerateToken()
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		fmt.Fprintf(out, "token: %s\n", token)
	}
	hash, err := handler.HashToken(token)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "hash:  %s\n", hash)
	return nil
}
