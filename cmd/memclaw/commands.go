package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roelfdiedericks/memclaw/internal/config"
	"github.com/roelfdiedericks/memclaw/internal/contextpack"
	"github.com/roelfdiedericks/memclaw/internal/queue"
	"github.com/roelfdiedericks/memclaw/internal/store"
)

// runConfig shows the effective settings, or with "init" writes the
// defaults to settings.json so there is a file to edit.
func runConfig(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if len(args) > 0 && args[0] == "init" {
		if _, err := os.Stat(config.SettingsPath()); err == nil {
			return fmt.Errorf("settings already exist at %s", config.SettingsPath())
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Println("wrote", config.SettingsPath())
		return nil
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("settings file: %s\n%s\n", config.SettingsPath(), data)
	return nil
}

// runContext prints the memory context for a project to stdout, the same
// text the session-start hook injects.
func runContext(args []string) error {
	fs := flag.NewFlagSet("context", flag.ExitOnError)
	project := fs.String("project", "", "project name (defaults to current directory name)")
	fs.Parse(args)

	cfg, s, _, closeDB, err := openEnv(true)
	if err != nil {
		return err
	}
	defer closeDB()

	name := *project
	if name == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		name = filepath.Base(cwd)
	}

	out, err := contextpack.New(s, &cfg.Context).Build(name)
	if err != nil {
		return err
	}
	if out == "" {
		fmt.Printf("no memory for project %q yet\n", name)
		return nil
	}
	fmt.Print(out)
	return nil
}

func runQueue(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("queue subcommand required: status, retry or clear-failed")
	}

	_, _, q, closeDB, err := openEnv(true)
	if err != nil {
		return err
	}
	defer closeDB()

	switch args[0] {
	case "status":
		return queueStatus(q)
	case "retry":
		n, err := q.RetryFailed()
		if err != nil {
			return err
		}
		fmt.Printf("re-queued %d failed messages\n", n)
		return nil
	case "clear-failed":
		n, err := q.ClearFailed()
		if err != nil {
			return err
		}
		fmt.Printf("cleared %d failed messages\n", n)
		return nil
	default:
		return fmt.Errorf("unknown queue subcommand %q", args[0])
	}
}

func queueStatus(q *queue.Queue) error {
	pending, err := q.PendingCount()
	if err != nil {
		return err
	}
	fmt.Printf("pending: %d\n", pending)

	if oldest, err := q.OldestPendingEpoch(); err == nil && oldest > 0 {
		fmt.Printf("oldest pending: %s\n", time.UnixMilli(oldest).Format(time.RFC3339))
	}

	sessions, err := q.SessionsWithPendingWork()
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		fmt.Printf("  %s\n", sess)
	}

	failed, err := q.Messages(queue.StatusFailed, 20)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		fmt.Printf("failed: %d\n", len(failed))
		for _, m := range failed {
			fmt.Printf("  #%d %s %s (retries %d)\n", m.ID, m.MessageType, m.ContentSessionID, m.RetryCount)
		}
	}
	return nil
}

// Archive is the JSON shape of an exported memory database.
type Archive struct {
	Sessions     []store.Session     `json:"sessions"`
	Observations []store.Observation `json:"observations"`
	Summaries    []store.Summary     `json:"summaries"`
	Prompts      []store.UserPrompt  `json:"prompts"`
}

// runImport loads an archive file. Sessions import first so every child
// row finds its parent; existing sessions are skipped, their history is
// not duplicated.
func runImport(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("archive file required")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var archive Archive
	if err := json.Unmarshal(data, &archive); err != nil {
		return fmt.Errorf("parse archive: %w", err)
	}

	_, s, _, closeDB, err := openEnv(true)
	if err != nil {
		return err
	}
	defer closeDB()

	sessions, err := s.ImportSessions(archive.Sessions)
	if err != nil {
		return err
	}
	observations, err := s.ImportObservations(archive.Observations)
	if err != nil {
		return err
	}
	summaries, err := s.ImportSummaries(archive.Summaries)
	if err != nil {
		return err
	}
	prompts, err := s.ImportPrompts(archive.Prompts)
	if err != nil {
		return err
	}

	fmt.Printf("imported %d sessions, %d observations, %d summaries, %d prompts\n",
		sessions, observations, summaries, prompts)
	return nil
}
