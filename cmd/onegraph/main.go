// Package main provides the onegraph CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/onegraph/pkg/cache"
	"github.com/orneryd/onegraph/pkg/config"
	"github.com/orneryd/onegraph/pkg/engine"
	"github.com/orneryd/onegraph/pkg/graph"
	"github.com/orneryd/onegraph/pkg/gremlin"
	"github.com/orneryd/onegraph/pkg/logging"
	"github.com/orneryd/onegraph/pkg/model"
	"github.com/orneryd/onegraph/pkg/proxy"
	"github.com/orneryd/onegraph/pkg/repository"
	"github.com/orneryd/onegraph/pkg/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "onegraph",
		Short: "onegraph - embedded graph kernel with Gremlin-style traversals",
		Long: `onegraph stores a property graph in BadgerDB and answers Gremlin-style
traversals by compiling them into Match/Create patterns and running them
against a lazily materialized view of the store.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", config.DefaultFileName, "Config file (YAML)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().Bool("in-memory", false, "Use an in-memory store")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("trace", false, "Write spans to stderr")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "onegraph v%s (%s)\n", version, commit)
		},
	})

	// Init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a data directory and a default config file",
		RunE:  runInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)

	// Import command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "import [export.json]",
		Short: "Load a Neo4j JSON export",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	})

	// Export command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "export [file]",
		Short: "Write the store as a Neo4j JSON export (- for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	})

	// Stats command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show node and relationship counts",
		RunE:  runStats,
	})

	// Compile command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "compile [bytecode.json]",
		Short: "Compile GraphSON bytecode and print the patterns (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE:  runCompile,
	})

	// Run command
	runCmd := &cobra.Command{
		Use:   "run [bytecode.json]",
		Short: "Compile GraphSON bytecode and execute it against the store",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringSlice("labels", nil, "Labels scoping the graph proxy (default from config)")
	rootCmd.AddCommand(runCmd)

	return rootCmd
}

// session bundles what a command needs after configuration is resolved.
type session struct {
	ctx     context.Context
	cfg     *config.Config
	log     *slog.Logger
	closers []func() error
}

func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func newSession(cmd *cobra.Command) (*session, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Storage.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if cmd.Flags().Changed("in-memory") {
		cfg.Storage.InMemory, _ = cmd.Flags().GetBool("in-memory")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("trace") {
		cfg.Tracing.Enabled, _ = cmd.Flags().GetBool("trace")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.Memory.ApplyRuntimeMemory()

	log := logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	ctx = logging.WithLogger(ctx, log)
	s := &session{ctx: ctx, cfg: cfg, log: log}
	s.closers = append(s.closers, func() error { cancel(); return nil })

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.SetupStdoutTracing(cmd.ErrOrStderr())
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(ctx)
		})
	}
	log.Debug("configuration loaded", "config", cfg.String())
	return s, nil
}

func (s *session) openRepository() (*repository.BadgerRepository, error) {
	repo, err := repository.NewBadgerRepository(repository.BadgerOptions{
		DataDir:    s.cfg.Storage.DataDir,
		InMemory:   s.cfg.Storage.InMemory,
		SyncWrites: s.cfg.Storage.SyncWrites,
		LowMemory:  s.cfg.Storage.LowMemory,
		Logger:     s.log,
	})
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	s.closers = append(s.closers, repo.Close)
	return repo, nil
}

func (s *session) compiler() *engine.Compiler {
	opts := []engine.CompilerOption{engine.WithCompilerLogger(s.log)}
	if s.cfg.Cache.Enabled {
		opts = append(opts, engine.WithCache(cache.NewPatternCache(s.cfg.Cache.Size, s.cfg.Cache.TTL)))
	}
	return engine.NewCompiler(opts...)
}

func runInit(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	dataDir := s.cfg.Storage.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	configPath, _ := cmd.Flags().GetString("config")
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config %s already exists (use --force to overwrite)", configPath)
	}
	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := s.cfg.WriteFile(configPath); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized onegraph in %s\n", dataDir)
	fmt.Fprintf(out, "   Config: %s\n", configPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Load data:   onegraph import ./export.json")
	fmt.Fprintln(out, "  2. Traverse:    onegraph run ./traversal.json --labels Person")
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	repo, err := s.openRepository()
	if err != nil {
		return err
	}

	start := time.Now()
	stats, err := repository.LoadNeo4jExportFile(s.ctx, repo, args[0])
	if err != nil {
		return fmt.Errorf("loading export: %w", err)
	}
	if err := repo.Sync(); err != nil {
		return err
	}
	s.log.Info("export loaded", "file", args[0], "nodes", stats.Nodes,
		"relationships", stats.Relationships, "duration", time.Since(start))
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d nodes, %d relationships\n", stats.Nodes, stats.Relationships)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	repo, err := s.openRepository()
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if args[0] != "-" {
		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := repository.WriteNeo4jExport(s.ctx, repo, w); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	s.log.Info("export written", "file", args[0])
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	repo, err := s.openRepository()
	if err != nil {
		return err
	}
	nodes, err := repo.NodeCount(s.ctx)
	if err != nil {
		return err
	}
	rels, err := repo.RelationshipCount(s.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Nodes:         %d\nRelationships: %d\n", nodes, rels)
	return nil
}

func readBytecode(cmd *cobra.Command, path string) (gremlin.Bytecode, error) {
	if path == "-" {
		return gremlin.ReadBytecode(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bytecode: %w", err)
	}
	defer f.Close()
	return gremlin.ReadBytecode(f)
}

func runCompile(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	bc, err := readBytecode(cmd, args[0])
	if err != nil {
		return err
	}
	patterns, err := s.compiler().Compile(s.ctx, bc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", bc)
	for i, p := range patterns {
		fmt.Fprintf(out, "pattern %d:\n%s", i, model.FormatPattern(p))
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	bc, err := readBytecode(cmd, args[0])
	if err != nil {
		return err
	}
	labels := s.cfg.Engine.DefaultLabels
	if cmd.Flags().Changed("labels") {
		labels, _ = cmd.Flags().GetStringSlice("labels")
	}

	repo, err := s.openRepository()
	if err != nil {
		return err
	}

	ctx, traversal := engine.WithTraversalID(s.ctx)
	patterns, err := s.compiler().Compile(ctx, bc)
	if err != nil {
		return err
	}
	p, err := proxy.New(ctx, repo, labels)
	if err != nil {
		return err
	}
	res, err := engine.NewExecutor(repo, p, engine.WithMaxMatches(s.cfg.Engine.MaxMatches)).Execute(ctx, patterns)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, b := range res.Bindings {
		fmt.Fprintf(out, "pattern %d: %s\n", b.Pattern, formatBinding(p, b))
	}
	fmt.Fprintf(out, "%d bindings, %d nodes created, %d relationships created\n",
		len(res.Bindings), res.NodesCreated, res.RelationshipsCreated)
	s.log.Info("traversal executed", "traversal", traversal, "bindings", len(res.Bindings),
		"mirrored_nodes", p.NodesLen(), "mirrored_relationships", p.EdgesLen())
	return nil
}

func formatBinding(p *proxy.GraphProxy, b engine.Binding) string {
	parts := make([]string, 0, len(b.Nodes))
	for i := 0; len(parts) < len(b.Nodes); i++ {
		id, ok := b.Nodes[graph.NewNodeIndex(i)]
		if !ok {
			continue
		}
		n := p.Node(id)
		label := ""
		if len(n.Labels) > 0 {
			label = ":" + strings.Join(n.Labels, ":")
		}
		parts = append(parts, fmt.Sprintf("n%d=(%d%s)", i, id.StoreID(), label))
	}
	return strings.Join(parts, " ")
}
