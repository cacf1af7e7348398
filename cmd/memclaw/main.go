// memclaw is the persistent memory layer for coding sessions: hooks feed
// tool-use events into a durable queue, a worker distills them into
// observations through an LLM agent, and new sessions start with the
// compressed context of everything learned before.
package main

import (
	"fmt"
	"os"

	"github.com/roelfdiedericks/memclaw/internal/config"
	"github.com/roelfdiedericks/memclaw/internal/contextpack"
	"github.com/roelfdiedericks/memclaw/internal/db"
	"github.com/roelfdiedericks/memclaw/internal/hooks"
	"github.com/roelfdiedericks/memclaw/internal/logging"
	"github.com/roelfdiedericks/memclaw/internal/queue"
	"github.com/roelfdiedericks/memclaw/internal/store"
)

var version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, `memclaw %s - session memory for coding agents

Usage:
  memclaw worker                     run the queue worker and gateway
  memclaw hook <name>                handle a hook event from stdin
                                     (session-start, user-prompt, tool-use, stop)
  memclaw context [-project NAME]    print the memory context for a project
  memclaw queue <status|retry|clear-failed>
  memclaw config [init]              show settings, or write the default file
  memclaw import <file.json>         import an exported memory archive
  memclaw version
`, version)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Println("memclaw", version)
	case "worker":
		err = runWorker(os.Args[2:])
	case "hook":
		err = runHook(os.Args[2:])
	case "context":
		err = runContext(os.Args[2:])
	case "queue":
		err = runQueue(os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "import":
		err = runImport(os.Args[2:])
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}

// openEnv loads config, opens the database and runs migrations. Every
// subcommand goes through here; a failed migration stops the process
// before any traffic is served.
func openEnv(quiet bool) (*config.Config, *store.Store, *queue.Queue, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logCfg := &logging.Config{
		Level: logging.ParseLevel(cfg.Logging.Level),
		File:  cfg.Logging.File,
	}
	logger := logging.New(logCfg)
	if quiet {
		logger = logging.Discard()
	}

	conn, err := db.Open(config.DBPath())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := db.RunAll(conn, logger); err != nil {
		conn.Close()
		return nil, nil, nil, nil, fmt.Errorf("migrations: %w", err)
	}

	s := store.New(conn, logger)
	q := queue.New(conn, logger, cfg.Queue.MaxRetries)
	return cfg, s, q, func() { conn.Close() }, nil
}

func runHook(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("hook name required")
	}

	// Hooks write JSON to stdout for the editor; logs stay out of the way
	cfg, s, q, closeDB, err := openEnv(true)
	if err != nil {
		return err
	}
	defer closeDB()

	cb := contextpack.New(s, &cfg.Context)
	h := hooks.New(s, q, cb, logging.Discard())
	return h.Run(args[0], os.Stdin, os.Stdout)
}
