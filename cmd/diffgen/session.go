package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	pgcache "github.com/flowdelta/pgdiff/cache"
	pgconfig "github.com/flowdelta/pgdiff/config"
	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/frontier"
	"github.com/flowdelta/pgdiff/optree"
)

// session holds the one operator tree + frontier pair currently loaded,
// mirroring the teacher REPL's single-query-under-construction model.
type session struct {
	cfg *pgconfig.Config
	log *zap.Logger

	// cacheStore is nil unless PGDIFF_CACHE_ADDR is set, in which case
	// cmdDiff reuses a previously compiled program for an identical tree
	// instead of differentiating it again.
	cacheStore *pgcache.Store

	root     optree.Node
	prev     frontier.Frontier
	next     frontier.Frontier
	lastProg string
}

func newSession(cfg *pgconfig.Config, log *zap.Logger) *session {
	return &session{cfg: cfg, log: log}
}

func (s *session) cmdLoad(path string) error {
	if path == "" {
		return fmt.Errorf("usage: load <path-to-session.json>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	doc, err := decodeSessionDoc(data)
	if err != nil {
		return err
	}
	root, err := doc.Tree.build()
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	s.root = root
	s.prev = doc.Prev
	s.next = doc.Next
	s.lastProg = ""
	fmt.Printf("loaded %q: root=%s(alias=%s), %d prev frontier entries, %d next frontier entries\n",
		path, root.Kind(), root.Alias(), len(s.prev), len(s.next))
	return nil
}

func (s *session) cmdTree() error {
	if s.root == nil {
		return fmt.Errorf("no tree loaded; use 'load <path>' first")
	}
	fmt.Print(describeTree(s.root))
	return nil
}

func (s *session) cmdFrontier() error {
	if s.root == nil {
		return fmt.Errorf("no tree loaded; use 'load <path>' first")
	}
	fmt.Println("prev:")
	for oid, p := range s.prev {
		fmt.Printf("  %d: lsn=%s ts=%s\n", oid, p.LSN, p.Timestamp)
	}
	fmt.Println("next:")
	for oid, p := range s.next {
		fmt.Printf("  %d: lsn=%s ts=%s\n", oid, p.LSN, p.Timestamp)
	}
	return nil
}

// buildContext assembles a fresh per-refresh Context the way a real
// extension trigger would: a new RefreshID (the core has no clock of its
// own, see diff.Context.RefreshID), the configured change-buffer schema,
// and a source-count-derived ST config left for the caller to set.
func (s *session) buildContext() *diff.Context {
	ctx := diff.NewContext(s.prev, s.next)
	ctx.ChangeBufferSchema = s.cfg.ChangeBufferSchema
	ctx.RefreshID = uuid.NewString()
	return ctx
}

func (s *session) cmdDiff(_ context.Context) error {
	if s.root == nil {
		return fmt.Errorf("no tree loaded; use 'load <path>' first")
	}
	ctx := s.buildContext()
	log := s.log.With(zap.String("refresh_id", ctx.RefreshID))
	log.Info("differentiating", zap.String("root_kind", s.root.Kind()))

	treeJSON, marshalErr := json.Marshal(s.root)
	if marshalErr != nil {
		return fmt.Errorf("diff: encode tree for cache key: %w", marshalErr)
	}
	key := pgcache.TreeKey(treeJSON)

	program, err := s.cacheStore.Differentiate(context.Background(), key, ctx, s.root)
	if err != nil {
		log.Error("differentiation failed", zap.Error(err))
		return fmt.Errorf("diff: %w", err)
	}
	s.lastProg = program
	fmt.Println(program)
	fmt.Printf("\n-- %s program, %s CTE(s)\n",
		humanize.Bytes(uint64(len(program))),
		humanize.Comma(int64(ctx.CTECount())))
	return nil
}

func (s *session) cmdExplain(ctx context.Context) error {
	if s.root == nil {
		return fmt.Errorf("no tree loaded; use 'load <path>' first")
	}
	fmt.Println("-- operator tree --")
	fmt.Print(describeTree(s.root))
	fmt.Println("-- generated program --")
	return s.cmdDiff(ctx)
}
