package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flywheel-apps/ROI-export/internal/config"
	"github.com/flywheel-apps/ROI-export/internal/export"
	"github.com/flywheel-apps/ROI-export/internal/flywheel"
	"github.com/flywheel-apps/ROI-export/internal/logging"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	cfg := config.FromEnv()

	// Define command-line flags
	container := flag.String("container", cfg.Container, "Project or session container ID to export (required)")
	outputDir := flag.String("output", cfg.OutputDir, "Output directory for the CSV report")
	apiHost := flag.String("api-host", cfg.APIHost, "Flywheel API host")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	dryRun := flag.Bool("dry-run", false, "Traverse and report row count without writing the CSV")
	previewFlag := flag.Bool("preview", false, "Render PNG previews of frames with their ROI boxes")

	// Interactive wizard and config options
	interactive := flag.Bool("interactive", false, "Launch interactive wizard")
	flag.BoolVar(interactive, "i", false, "Launch interactive wizard (shortcut)")
	configFile := flag.String("config", "", "Load configuration from YAML file")
	saveConfig := flag.String("save-config", "", "Save configuration to YAML file (after export)")

	help := flag.Bool("help", false, "Show help message")
	showVersion := flag.Bool("version", false, "Show version")

	flag.Parse()

	// Show version
	if *showVersion {
		fmt.Printf("roi-export %s\n", version)
		os.Exit(0)
	}

	// Show help
	if *help {
		printHelp()
		os.Exit(0)
	}

	cfg.Container = *container
	cfg.OutputDir = *outputDir
	cfg.APIHost = *apiHost
	cfg.LogLevel = *logLevel
	cfg.DryRun = *dryRun
	cfg.Preview = *previewFlag

	// Handle config file loading (flags set explicitly still win)
	if *configFile != "" {
		if err := cfg.LoadYAML(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "container":
				cfg.Container = *container
			case "output":
				cfg.OutputDir = *outputDir
			case "api-host":
				cfg.APIHost = *apiHost
			case "log-level":
				cfg.LogLevel = *logLevel
			}
		})
	}

	// Handle interactive mode
	if *interactive {
		if err := runWizard(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	log := logging.New("roi-export", logging.ParseLevel(cfg.LogLevel))

	fmt.Println("roi-export")
	fmt.Println("==========")
	fmt.Println()

	if err := run(cfg, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Save config if requested
	if *saveConfig != "" {
		if err := cfg.SaveYAML(*saveConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not save config: %v\n", err)
		} else {
			fmt.Printf("Configuration saved to %s\n", *saveConfig)
		}
	}
}

func run(cfg *config.Config, log *logging.Logger) error {
	ctx := context.Background()
	client := flywheel.New(cfg.APIHost, cfg.APIKey)

	builder := export.NewBuilder(client, log)
	if cfg.Preview && !cfg.DryRun {
		previewDir := filepath.Join(cfg.OutputDir, "previews")
		if err := os.MkdirAll(previewDir, 0755); err != nil {
			return fmt.Errorf("create preview directory: %w", err)
		}
		builder.PreviewDir = previewDir
	}

	rows, summary, err := builder.Assemble(ctx, cfg.Container)
	if err != nil {
		return err
	}

	if cfg.DryRun {
		fmt.Println("\n✓ Dry run complete!")
		printSummary(summary)
		return nil
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(cfg.OutputDir, export.ReportFilename(summary.ProjectLabel, time.Now()))
	if err := export.WriteCSV(path, rows); err != nil {
		return err
	}

	fmt.Println("\n✓ Export complete!")
	fmt.Printf("  Report: %s\n", path)
	printSummary(summary)
	return nil
}

func printSummary(s export.Summary) {
	fmt.Printf("  Run ID: %s\n", s.RunID)
	fmt.Printf("  Project: %s\n", s.ProjectLabel)
	fmt.Printf("  Rows: %d\n", s.Rows)
	fmt.Printf("  Files visited: %d\n", s.FilesVisited)
	if s.NonDICOMSkipped > 0 {
		fmt.Printf("  Non-DICOM files skipped: %d\n", s.NonDICOMSkipped)
	}
	if s.OrphanedFiles > 0 {
		fmt.Printf("  Orphaned files skipped: %d\n", s.OrphanedFiles)
	}
	if s.UnmatchedSessionROIs > 0 {
		fmt.Printf("  Unmatched session ROIs: %d\n", s.UnmatchedSessionROIs)
	}
	if s.ROIsSkipped > 0 {
		fmt.Printf("  Unrecognized ROIs skipped: %d\n", s.ROIsSkipped)
	}
	if s.DecodeFailures > 0 {
		fmt.Printf("  Pixel decode failures: %d\n", s.DecodeFailures)
	}
	if s.PreviewFailures > 0 {
		fmt.Printf("  Preview failures: %d\n", s.PreviewFailures)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "\nUsage:")
	fmt.Fprintln(os.Stderr, "  roi-export --container <ID> [options]")
	fmt.Fprintln(os.Stderr, "\nOptions:")
	flag.PrintDefaults()
}

func printHelp() {
	fmt.Println("roi-export")
	fmt.Println("==========")
	fmt.Println()
	fmt.Println("Export OHIF ROI annotations from a Flywheel project or session as a CSV")
	fmt.Println("report with per-ROI pixel statistics.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  roi-export --container <ID> [options]")
	fmt.Println()
	fmt.Println("Required arguments:")
	fmt.Println("  --container <ID>      Project or session container ID to export")
	fmt.Println()
	fmt.Println("Optional arguments:")
	fmt.Println("  --output <DIR>        Output directory (default: 'output')")
	fmt.Println("  --api-host <URL>      Flywheel API host (default: https://api.flywheel.io)")
	fmt.Println("  --log-level <LEVEL>   Log level: debug, info, warn, error (default: info)")
	fmt.Println("  --dry-run             Traverse and report row count without writing the CSV")
	fmt.Println("  --preview             Render PNG previews of frames with their ROI boxes")
	fmt.Println("  --interactive, -i     Launch interactive wizard")
	fmt.Println("  --config <FILE>       Load configuration from YAML file")
	fmt.Println("  --save-config <FILE>  Save configuration to YAML file (after export)")
	fmt.Println("  --version             Show version")
	fmt.Println("  --help                Show this help message")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  FW_API_KEY            Flywheel API key (required, also read from .env)")
	fmt.Println("  FW_API_HOST           Flywheel API host")
	fmt.Println("  FW_CONTAINER_ID       Default container ID")
	fmt.Println("  FW_OUTPUT_DIR         Default output directory")
	fmt.Println("  FW_LOG_LEVEL          Default log level")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Export every ROI of a project")
	fmt.Println("  roi-export --container 5db0845e1c9e5fd1b78f4b3e")
	fmt.Println()
	fmt.Println("  # Export a single session with previews")
	fmt.Println("  roi-export --container 60a3c1b2e8f4a90012345678 --preview")
	fmt.Println()
	fmt.Println("  # Count rows without writing anything")
	fmt.Println("  roi-export --container 5db0845e1c9e5fd1b78f4b3e --dry-run")
	fmt.Println()
	fmt.Println("Output:")
	fmt.Println("  The report is written to:")
	fmt.Println("  <output>/<project>_ROI-Export_<MM-DD-YYYY_Hour-min-second>.csv")
	fmt.Println()
	fmt.Println("  One row per ROI with its hierarchy location, bounding box and pixel")
	fmt.Println("  statistics (area, count, min, max, mean, stdDev, variance). ROIs whose")
	fmt.Println("  pixel data cannot be decoded keep their bounding box and leave the")
	fmt.Println("  statistics columns blank.")
}
