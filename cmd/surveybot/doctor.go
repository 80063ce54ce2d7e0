package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"surveybot/internal/config"
	"surveybot/internal/recipient"
	"surveybot/internal/survey"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

// doctorReport counts check outcomes and prints one line per check.
type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your surveybot installation",
		Long: `Verifies that the configuration, survey definition, recipient file,
results database and HTTP port are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("surveybot doctor v%s\n\n", version)
			var r doctorReport

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'surveybot init' to create a default configuration.\n")
				return fmt.Errorf("no config")
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			r.pass("Config validation", "survey on "+cfg.Survey.Channel)

			if cfg.Survey.DefinitionFile != "" {
				if bank, _, err := survey.LoadDefinition(cfg.Survey.DefinitionFile); err != nil {
					r.fail("Survey definition", err.Error())
				} else {
					r.pass("Survey definition", fmt.Sprintf("%d questions", bank.Len()))
				}
			} else {
				r.pass("Survey definition", fmt.Sprintf("built-in, %d questions", survey.DefaultQuestionBank().Len()))
			}

			if cfg.Survey.ReviewMediaPath != "" {
				if _, err := os.Stat(cfg.Survey.ReviewMediaPath); err != nil {
					r.warn("Review media", err.Error())
				} else {
					r.pass("Review media", cfg.Survey.ReviewMediaPath)
				}
			}

			if pending, err := recipient.NewFileSource(cfg.Recipients.Path).Load(); err != nil {
				r.fail("Recipients", err.Error())
			} else if _, statErr := os.Stat(cfg.Recipients.Path); statErr != nil {
				r.warn("Recipients", fmt.Sprintf("%s does not exist yet", cfg.Recipients.Path))
			} else {
				r.pass("Recipients", fmt.Sprintf("%d pending in %s", len(pending), cfg.Recipients.Path))
			}

			if cfg.Results.Enabled {
				if err := checkDatabase(cfg.Results.DBPath); err != nil {
					r.fail("Results database", err.Error())
				} else {
					r.pass("Results database", cfg.Results.DBPath)
				}
			}

			if cfg.Survey.Channel == "whatsapp" || cfg.Metrics.Enabled {
				if err := checkPort(cfg.Server.Addr()); err != nil {
					r.warn("HTTP port", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
				} else {
					r.pass("HTTP port", cfg.Server.Addr()+" available")
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
