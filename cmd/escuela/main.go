package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/escuela/internal/grading"
	"github.com/pavelanni/escuela/internal/handler"
	appI18n "github.com/pavelanni/escuela/internal/i18n"
	"github.com/pavelanni/escuela/internal/llm"
	"github.com/pavelanni/escuela/internal/llm/prompts"
	"github.com/pavelanni/escuela/internal/metrics"
	"github.com/pavelanni/escuela/internal/model"
	"github.com/pavelanni/escuela/internal/notify"
	"github.com/pavelanni/escuela/internal/rotation"
	"github.com/pavelanni/escuela/internal/store"
	"github.com/pavelanni/escuela/internal/submission"
)

func main() {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("error loading .env", "error", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "escuela",
		Short: "School administration: guard-duty rotation, coursework grading and parent portal",
	}

	serve := serveCmd()
	root.AddCommand(serve, rotationCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `escuela --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addRotationFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("rotation.fixed-space", "Dirección", "Space permanently covered by the fixed person")
	f.String("rotation.fixed-person", "", "Staff member always assigned to the fixed space")
	f.StringSlice("rotation.spaces", []string{"Patio", "Entrada", "Baños", "Cancha"}, "Rotating supervision spaces, in display order")
	f.StringSlice("rotation.directors", nil, "Director names excluded from the rotation")
	f.StringSlice("rotation.specialist-names", nil, "Names always treated as specialists")
	f.Int("rotation.weeks", 4, "Number of weeks shown on the board")
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "escuela.db", "SQLite database path")
	f.StringSliceP("staff", "s", nil, "Paths to staff directory JSON files (repeatable)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL (empty disables model-assisted grading)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llava", "Vision-capable model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.StringP("lang", "l", appI18n.DefaultLang, "Default UI language (es, en)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /primaria)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set ESCUELA_ADMIN_PASSWORD)")
	f.Duration("portal.poll-interval", 10*time.Second, "How often parent clients re-fetch the portal feed")
	f.Int("notify-queue", 64, "Teacher notification queue capacity")
	addRotationFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func rotationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotation",
		Short: "Print the guard-duty board for a week",
		RunE:  runRotation,
	}
	f := cmd.Flags()
	f.String("db", "escuela.db", "SQLite database path")
	f.IntP("week", "w", 0, "Week offset (0 is the current week)")
	f.Int("seed", 0, "Reshuffle seed (0 keeps directory order)")
	addRotationFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export student results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "escuela.db", "SQLite database path")
	f.String("school", "", "School name for output")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
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

	v.SetEnvPrefix("ESCUELA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("escuela")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/escuela")
	v.AddConfigPath("/etc/escuela")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func rotationConfig(v *viper.Viper) model.RotationConfig {
	return model.RotationConfig{
		FixedSpace:      v.GetString("rotation.fixed-space"),
		FixedPerson:     v.GetString("rotation.fixed-person"),
		Spaces:          v.GetStringSlice("rotation.spaces"),
		Directors:       v.GetStringSlice("rotation.directors"),
		SpecialistNames: v.GetStringSlice("rotation.specialist-names"),
		Weeks:           v.GetInt("rotation.weeks"),
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	rotCfg := rotationConfig(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := loadStaff(db, v.GetStringSlice("staff"), rotCfg); err != nil {
		return fmt.Errorf("load staff: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}
	grader, err := newGrader(v, promptVariant)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	dispatcher := notify.NewDispatcher(db, v.GetInt("notify-queue"))
	dispatcher.Start(ctx)
	defer dispatcher.Close()

	go cleanupSessions(ctx, db)

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	appCfg := model.AppConfig{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		PromptVariant: promptVariant,
		PollInterval:  v.GetDuration("portal.poll-interval"),
		Rotation:      rotCfg,
	}

	svc := submission.New(db, grader, dispatcher, m, grading.DefaultOptions())
	h, err := handler.New(db, svc, m, appCfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)
	r.Use(appI18n.Middleware(lang))
	r.Handle("/metrics", m.Handler())

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"lang", lang,
			"llm_url", v.GetString("llm-url"),
			"model", v.GetString("llm-model"),
			"spaces", len(rotCfg.Spaces),
			"poll_interval", appCfg.PollInterval,
			"base_path", basePath,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newGrader returns the model-assisted grader, or nil when none is configured.
// An unreachable endpoint is not fatal: model-graded worksheets fail open.
func newGrader(v *viper.Viper, variant string) (submission.Grader, error) {
	url := v.GetString("llm-url")
	if url == "" {
		slog.Info("model-assisted grading disabled")
		return nil, nil
	}
	client, err := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), variant)
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		slog.Warn("LLM health check failed, model-graded worksheets will complete without a score",
			"url", url, "error", err)
	} else {
		slog.Info("LLM endpoint OK", "url", url, "model", v.GetString("llm-model"))
	}
	return client, nil
}

func cleanupSessions(ctx context.Context, db *store.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.CleanupExpiredSessions()
			if err != nil {
				slog.Warn("session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("expired sessions removed", "count", n)
			}
		}
	}
}

func runRotation(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	cfg := rotationConfig(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	staff, err := db.ListStaff()
	if err != nil {
		return fmt.Errorf("list staff: %w", err)
	}

	week := max(v.GetInt("week"), 0)
	a := rotation.AssignWeek(staff, cfg, v.GetInt("seed"), week)
	ctx := appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(appI18n.DefaultLang))
	return printBoard(ctx, cmd.OutOrStdout(), a, rotation.WeekSlots(time.Now(), week+1)[week])
}

func printBoard(ctx context.Context, out io.Writer, a rotation.Assignment, slot rotation.WeekSlot) error {
	fmt.Fprintf(out, "%s (%s)\n\n", appI18n.Td(ctx, "WeekN", map[string]any{"N": a.Week + 1}), slot.Label)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, sa := range a.Spaces {
		names := make([]string, 0, len(sa.Staff))
		for _, s := range sa.Staff {
			if s.IsSpecialist {
				names = append(names, s.Name+" *")
				continue
			}
			names = append(names, s.Name)
		}
		cell := strings.Join(names, ", ")
		if cell == "" {
			cell = appI18n.T(ctx, "Unassigned")
		}
		fmt.Fprintf(tw, "%s\t%s\n", sa.Space, cell)
	}
	return tw.Flush()
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportResults(v.GetString("school"))
	if err != nil {
		return fmt.Errorf("export results: %w", err)
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

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	slog.Info("exported results", "students", len(export.Students), "assignments", len(export.Assignments))
	return nil
}

// loadStaff imports staff directory files. A file is imported once; a changed
// file is skipped so the directory order the rotation depends on stays stable.
func loadStaff(db *store.Store, paths []string, cfg model.RotationConfig) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("staff file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("staff file changed since last import, skipping to keep the rotation stable", "path", path)
			continue
		}

		var rows []model.StaffImport
		if err := json.Unmarshal(data, &rows); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		for _, si := range rows {
			if _, err := db.InsertStaff(rotation.FromImport(si, cfg)); err != nil {
				return fmt.Errorf("insert staff from %s: %w", path, err)
			}
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported staff", "path", path, "count", len(rows))
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or ESCUELA_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administración",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
