package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/schollz/progressbar/v3"

	"git.home.luguber.info/inful/reviewd/internal/agents"
	"git.home.luguber.info/inful/reviewd/internal/checkpoint"
	"git.home.luguber.info/inful/reviewd/internal/config"
	"git.home.luguber.info/inful/reviewd/internal/daemon"
	"git.home.luguber.info/inful/reviewd/internal/llm"
	"git.home.luguber.info/inful/reviewd/internal/model"
	"git.home.luguber.info/inful/reviewd/internal/orchestrator"
	"git.home.luguber.info/inful/reviewd/internal/progress"
	"git.home.luguber.info/inful/reviewd/internal/store"
	"git.home.luguber.info/inful/reviewd/internal/version"
)

var CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"reviewd.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `help:"Print version and exit"`

	Daemon struct{} `cmd:"" help:"Run the analysis daemon: queue worker plus maintenance scheduler"`

	Analyze struct {
		Dir  string `arg:"" help:"Local source directory to analyze" type:"existingdir"`
		Mock bool   `help:"Use the deterministic mock model"`
	} `cmd:"" help:"Run a one-shot analysis of a local directory and print the findings"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Write a default configuration file"`

	Projects struct {
		Owner  string `help:"Only list projects of this owner"`
		Limit  int    `default:"50" help:"Maximum number of projects to list"`
		Offset int    `help:"Listing offset for paging"`
	} `cmd:"" help:"List projects from the store"`
}

func main() {
	ctx := kong.Parse(&CLI, kong.Vars{"version": version.String()})

	if ctx.Command() == "init" {
		setupLogging(config.LoggingConfig{Level: "info", Format: "text"})
		if err := runInit(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)

	switch ctx.Command() {
	case "daemon":
		if err := runDaemon(cfg); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	case "analyze <dir>":
		if err := runAnalyze(cfg, CLI.Analyze.Dir, CLI.Analyze.Mock); err != nil {
			slog.Error("Analysis failed", "error", err)
			os.Exit(1)
		}
	case "projects":
		if err := runProjects(cfg, CLI.Projects.Owner, CLI.Projects.Limit, CLI.Projects.Offset); err != nil {
			slog.Error("Listing failed", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Unknown command", "command", ctx.Command())
		os.Exit(1)
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if CLI.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runInit(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file %s already exists, use --force to overwrite", path)
	}
	if err := config.Default().Write(path); err != nil {
		return err
	}
	slog.Info("Configuration file created", "path", path)
	return nil
}

func runDaemon(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfg, CLI.Config)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	slog.Info("Daemon running, waiting for shutdown signal...")
	<-ctx.Done()
	slog.Info("Shutdown signal received, stopping daemon...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	return d.Stop(stopCtx)
}

// runAnalyze runs the agent pipeline against a local directory with
// throwaway in-memory stores, streaming progress to the terminal.
func runAnalyze(cfg *config.Config, dir string, mock bool) error {
	if mock {
		cfg.Model.MockMode = true
	}

	st, err := store.New(":memory:")
	if err != nil {
		return err
	}
	defer st.Close()
	cps, err := checkpoint.NewSQLiteStore(":memory:")
	if err != nil {
		return err
	}
	defer cps.Close()

	hub := progress.NewHub(256)
	roster := agents.NewRoster(cfg.Agents, llm.New(cfg.Model))
	orch := orchestrator.New(roster, st, cps, hub, nil, cfg.Agents)

	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	project := model.Project{
		ID:     uuid.NewString(),
		Name:   filepath.Base(abs),
		Status: model.StatusAnalyzing,
	}

	events, unsubscribe := hub.Subscribe(project.ID)
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("analyzing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			switch ev.Kind {
			case progress.KindPhase:
				bar.Describe(ev.Message)
			case progress.KindProgress:
				_ = bar.Set(int(ev.Percent))
			}
		}
	}()

	report, runErr := orch.Analyze(context.Background(), project, abs)
	_ = bar.Finish()
	unsubscribe()
	<-done
	if runErr != nil {
		return runErr
	}

	renderReport(report)
	return nil
}

func runProjects(cfg *config.Config, owner string, limit, offset int) error {
	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	projects, err := st.ListProjects(ctx, owner, limit, offset)
	if err != nil {
		return err
	}
	total, err := st.CountProjects(ctx, owner)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("no projects")
		return nil
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"ID", "NAME", "STATUS", "OWNER", "CREATED"})
	for _, p := range projects {
		tbl.AppendRow(table.Row{p.ID, p.Name, string(p.Status), p.OwnerID, humanize.Time(p.CreatedAt)})
	}
	tbl.Render()
	fmt.Printf("showing %d of %d projects\n", len(projects), total)
	return nil
}

func renderReport(report *model.Report) {
	fmt.Printf("\n%s\n", report.Summary)
	fmt.Printf("Health score: %s\n\n", scoreColor(report.HealthScore).Sprintf("%.1f", report.HealthScore))

	if len(report.Findings) == 0 {
		return
	}
	tbl := table.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"SEVERITY", "AGENT", "CATEGORY", "LOCATION", "DESCRIPTION"})
	for _, f := range report.Findings {
		tbl.AppendRow(table.Row{
			severityColor(f.Severity).Sprint(string(f.Severity)),
			string(f.Agent),
			f.Category,
			findingLocation(f),
			f.Description,
		})
	}
	tbl.Render()
}

func findingLocation(f model.Finding) string {
	switch {
	case f.FilePath != "" && f.Lines.Start > 0:
		return fmt.Sprintf("%s:%d", f.FilePath, f.Lines.Start)
	case f.FilePath != "":
		return f.FilePath
	default:
		return f.Symbol
	}
}

func severityColor(s model.Severity) *color.Color {
	switch s {
	case model.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case model.SeverityHigh:
		return color.New(color.FgRed)
	case model.SeverityMedium:
		return color.New(color.FgYellow)
	case model.SeverityLow:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}

func scoreColor(score float64) *color.Color {
	switch {
	case score >= 80:
		return color.New(color.FgGreen)
	case score >= 50:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
