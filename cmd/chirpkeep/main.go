package main

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hpungsan/chirpkeep/internal/config"
	"github.com/hpungsan/chirpkeep/internal/logging"
	"github.com/hpungsan/chirpkeep/internal/mcp"
	"github.com/hpungsan/chirpkeep/internal/session"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// defaultAccount is used when neither --account nor CHIRPKEEP_ACCOUNT is set.
const defaultAccount = "default"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"capture": true, "index": true, "status": true,
	"migrations": true, "ca": true,
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
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
        _     _           _
   ___ | |__ (_)_ __ _ __| | _____  ___ _ __
  / __|| '_ \| | '__| '_ \ |/ / _ \/ _ \ '_ \
 | (__ | | | | | |  | |_) |   <  __/  __/ |_) |
  \___||_| |_|_|_|  | .__/|_|\_\___|\___| .__/
                    |_|                 |_|

  Archive your own timeline, likes, bookmarks and DMs

  Usage: chirpkeep <command> [options]
         chirpkeep --help

  MCP server mode requires piped input.`)
}

// accountFromEnv returns CHIRPKEEP_ACCOUNT or the default account key.
func accountFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("CHIRPKEEP_ACCOUNT")); v != "" {
		return v
	}
	return defaultAccount
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// .env is optional; only a malformed file is worth reporting.
	if err := godotenv.Load(); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}

	if isHelpOrVersion() {
		app := newCLIApp("", config.DefaultConfig(), logging.New("disabled", os.Stderr))
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	baseDir := os.Getenv("CHIRPKEEP_HOME")
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
			os.Exit(1)
		}
		baseDir = filepath.Join(homeDir, ".chirpkeep")
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, os.Stderr)

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn().Strs("tools", unknown).Msg("disabled_tools names unknown tools")
	}

	if isCLIMode() {
		app := newCLIApp(baseDir, cfg, logger)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'chirpkeep --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	sess, err := session.Open(baseDir, accountFromEnv(), cfg, logger, session.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to open session: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	if err := mcp.Run(sess, cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		sess.Close()
		os.Exit(1)
	}
}
