// diffgen is an interactive REPL for loading a JSON-encoded operator tree
// and frontier pair and inspecting the SQL program optree.Differentiate
// generates for it — the development counterpart to the extension's
// trigger-driven refresh path, used to inspect a defining query's compiled
// program without a live PostgreSQL instance.
//
// Configuration (env vars, see package config):
//
//	PGDIFF_CHANGE_BUFFER_SCHEMA  (default "pgdiff")
//	PGDIFF_CACHE_ADDR            (optional; enables the redis program cache)
//	PGDIFF_PRETTY                (default true; console vs JSON logging)
//
// Usage:
//
//	go run ./cmd/diffgen
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"

	pgcache "github.com/flowdelta/pgdiff/cache"
	pgconfig "github.com/flowdelta/pgdiff/config"
	"github.com/flowdelta/pgdiff/obslog"
)

func main() {
	cfg := pgconfig.New()
	log := obslog.New(cfg.Pretty)
	defer func() { _ = log.Sync() }()

	sess := newSession(cfg, log)
	if cfg.CacheAddr != "" {
		sess.cacheStore = pgcache.Open(cfg.CacheAddr, 0)
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:          "diffgen> ",
		HistoryFile:     historyPath(),
		HistoryLimit:    500,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline init: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	fmt.Println("pgdiff diffgen — type 'help' for commands, 'quit' to exit")
	fmt.Println()

	ctx := context.Background()
	for {
		line, err := rl.ReadLine()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := dispatch(ctx, sess, line); err != nil {
			if errors.Is(err, errQuit) {
				break
			}
			fmt.Fprintf(os.Stderr, "  error: %v\n", err)
		}
	}
	fmt.Println()
}

var errQuit = errors.New("quit")

func dispatch(ctx context.Context, sess *session, line string) error {
	word, rest, _ := strings.Cut(line, " ")
	switch strings.ToLower(word) {
	case "load":
		return sess.cmdLoad(strings.TrimSpace(rest))
	case "tree":
		return sess.cmdTree()
	case "frontier":
		return sess.cmdFrontier()
	case "diff":
		return sess.cmdDiff(ctx)
	case "explain":
		return sess.cmdExplain(ctx)
	case "help":
		printHelp()
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q; type 'help' for a list", word)
	}
}

func printHelp() {
	fmt.Println(`commands:
  load <path>   load a JSON session document (operator tree + frontier pair)
  tree          print the loaded operator tree's shape
  frontier      print the loaded prev/next frontier entries
  diff          differentiate the loaded tree and print the generated SQL
  explain       print the tree shape, then the generated SQL
  help          print this message
  quit / exit   leave diffgen`)
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".diffgen_history")
}
