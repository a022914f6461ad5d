package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/capsules-dev/capsules/internal/config"
	"github.com/capsules-dev/capsules/internal/db"
	"github.com/capsules-dev/capsules/internal/gateway"
	"github.com/capsules-dev/capsules/internal/logging"
	"github.com/capsules-dev/capsules/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"baseimage": true, "template": true, "capsule": true,
	"history": true, "doctor": true, "mcp": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	return isFlag(arg)
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isFlag reports whether arg is a global flag that implies CLI mode.
func isFlag(arg string) bool {
	switch arg {
	case "--help", "-h", "--version", "-v", "--output", "-o":
		return true
	}
	return strings.HasPrefix(arg, "--output=")
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// baseDir returns $CAPSULES_HOME, or ~/.capsules.
func baseDir() (string, error) {
	if dir := os.Getenv("CAPSULES_HOME"); dir != "" {
		return filepath.Abs(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".capsules"), nil
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___ __ _ _ __  ___ _   _| | ___  ___
  / __/ _' | '_ \/ __| | | | |/ _ \/ __|
 | (_| (_| | |_) \__ \ |_| | |  __/\__ \
  \___\__,_| .__/|___/\__,_|_|\___||___/
           |_|

  Disposable desktop environments from reusable templates

  Usage: capsules <command> [options]
         capsules --help

  MCP server mode requires piped input.`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Help and version need no storage.
	if isHelpOrVersion() {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	dir, err := baseDir()
	if err != nil {
		fatal("%v", err)
	}

	cwd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(dir, cwd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	// Logs go to stderr; stdout carries command output and the MCP stream.
	logger, err := logging.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		fatal("%v", err)
	}
	slog.SetDefault(logger)

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", "tools", unknown)
	}

	database, err := db.Init(dir)
	if err != nil {
		fatal("failed to initialize journal: %v", err)
	}
	if n, err := db.AbandonUnfinished(database, time.Now().Unix()); err != nil {
		logger.Warn("could not close out unfinished runs", "error", err)
	} else if n > 0 {
		logger.Warn("previous run exited mid-operation; storage may be partial", "runs", n)
	}

	e := newEnv(dir, cfg, database, gateway.NewExec(logger), logger)
	defer e.close()

	if isCLIMode() {
		if err := newCLIApp(e).Run(os.Args); err != nil {
			e.close()
			fatal("%v", err)
		}
		return
	}

	if len(os.Args) >= 2 && isTerminal() {
		e.close()
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'capsules --help' for usage.\n")
		os.Exit(1)
	}

	if err := mcp.Run(e.mcpDeps(), cfg, Version); err != nil {
		e.close()
		fatal("%v", err)
	}
}
