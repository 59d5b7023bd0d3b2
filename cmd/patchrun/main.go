// patchrun runs one unattended Windows update cycle: restart the update
// services, clear the caches, trigger a scan, then search, download, and
// install updates, scheduling a reboot when one is needed.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/patchrun/internal/config"
	"github.com/breeze-rmm/patchrun/internal/logging"
	"github.com/breeze-rmm/patchrun/internal/runner"
	"github.com/breeze-rmm/patchrun/internal/wua"
)

// Set via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "patchrun",
	Short:         "Unattended Windows update runner",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full update cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		execute(cfg, false)
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Search for updates and report, without installing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		execute(cfg, true)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("patchrun %s (commit %s, built %s, %s)\n", version, commit, date, runtime.Version())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().Bool("microsoft-update", true, "register and search the Microsoft Update service")
	rootCmd.PersistentFlags().Bool("install", true, "download and install found updates")
	rootCmd.PersistentFlags().Bool("auto-reboot", true, "schedule a reboot when the install requires one")
	rootCmd.PersistentFlags().String("log-file", "", "log file path")
	rootCmd.PersistentFlags().Bool("silent", false, "suppress console output")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	v.BindPFlag("use_microsoft_update", rootCmd.PersistentFlags().Lookup("microsoft-update"))
	v.BindPFlag("install_updates", rootCmd.PersistentFlags().Lookup("install"))
	v.BindPFlag("auto_reboot", rootCmd.PersistentFlags().Lookup("auto-reboot"))
	v.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	v.BindPFlag("silent", rootCmd.PersistentFlags().Lookup("silent"))
	v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	// Bare "patchrun" behaves like "patchrun run".
	rootCmd.RunE = runCmd.RunE

	rootCmd.AddCommand(runCmd, scanCmd, configCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// execute performs the run (or scan) and always writes the finishing log
// line, whatever happened in between. A run that fails partway is still a
// completed run; faults are reported through the log, not the exit code.
func execute(cfg *config.Config, scanOnly bool) {
	closer := initLogging(cfg)
	if closer != nil {
		defer closer.Close()
	}

	log := logging.L("main")
	start := time.Now()
	var report runner.Report

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("unexpected panic", logging.KeyError, fmt.Sprint(rec))
		}
		log.Info("patchrun finished",
			"updatesFound", report.UpdatesFound,
			"installed", report.Installed,
			"rebootRequired", report.RebootRequired,
			"rebootScheduled", report.RebootScheduled,
			logging.KeyDurationMs, time.Since(start).Milliseconds())
	}()

	logStartup(log)

	client := wua.NewClient(cfg.UseMicrosoftUpdate)
	r := runner.New(cfg, runner.DefaultDeps(cfg, client))
	if scanOnly {
		report = r.Scan()
	} else {
		report = r.Run()
	}
}

func logStartup(log *slog.Logger) {
	if hi, err := host.Info(); err == nil {
		log.Info("starting patchrun",
			"version", version,
			"host", hi.Hostname,
			"os", hi.Platform+" "+hi.PlatformVersion)
	} else {
		log.Info("starting patchrun", "version", version)
	}
}

// initLogging opens the configured log file and installs the handlers. A
// log file that cannot be opened downgrades to console-only output with a
// single warning; it never stops the run.
func initLogging(cfg *config.Config) io.Closer {
	opts := logging.Options{
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
		Console: !cfg.Silent,
	}

	if cfg.LogFile == "" {
		logging.Init(opts)
		return nil
	}

	w, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		opts.Console = true
		logging.Init(opts)
		logging.L("main").Warn("cannot open log file, logging to console only",
			"path", cfg.LogFile, logging.KeyError, err)
		return nil
	}

	opts.File = w
	logging.Init(opts)
	return w
}
