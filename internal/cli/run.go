// Package cli is the process bootstrap layer: parse global flags, load
// config, dispatch to a subcommand, and give the HTTP server a bounded
// grace period on SIGINT/SIGTERM.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/streamstore/streamstore/internal/config"
	"github.com/streamstore/streamstore/internal/engine"
	"github.com/streamstore/streamstore/internal/fs"
	"github.com/streamstore/streamstore/internal/httpapi"
	"github.com/streamstore/streamstore/internal/metacache"

	flag "github.com/spf13/pflag"
)

// shutdownGrace bounds how long the HTTP server waits for in-flight
// requests to drain after SIGINT/SIGTERM before the process exits anyway.
const shutdownGrace = 5 * time.Second

// Run is the process entry point, invoked by cmd/streamstored/main.go.
// sigCh may be nil in tests that don't exercise signal handling.
func Run(_ io.Reader, out, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globalFlags := flag.NewFlagSet("streamstored", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(io.Discard)

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagCwd := globalFlags.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config `file`")
	flagRoot := globalFlags.String("root", "", "Override storage `root` directory")
	flagAddr := globalFlags.String("addr", "", "Override listen `address`")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	workDir := *flagCwd
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(errOut, "error:", err)

			return 1
		}

		workDir = wd
	}

	envSlice := make([]string, 0, len(env))
	for k, v := range env {
		envSlice = append(envSlice, k+"="+v)
	}

	changed := map[string]bool{
		"root": globalFlags.Changed("root"),
		"addr": globalFlags.Changed("addr"),
	}

	cfg, _, err := config.Load(workDir, *flagConfig, config.Config{Root: *flagRoot, Addr: *flagAddr}, changed, envSlice)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	commandAndArgs := globalFlags.Args()

	if *flagHelp || len(commandAndArgs) == 0 {
		printUsage(out)

		return 0
	}

	switch commandAndArgs[0] {
	case "serve":
		return runServe(out, errOut, cfg, workDir, sigCh)
	case "gc-orphans":
		return runGCOrphans(out, errOut, cfg, workDir, commandAndArgs[1:])
	case "config":
		return runConfig(out, errOut, workDir, commandAndArgs[1:])
	default:
		fmt.Fprintln(errOut, "error: unknown command:", commandAndArgs[0])
		printUsage(errOut)

		return 1
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "streamstored - versioned XML item stream storage")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  serve                 run the HTTP server")
	fmt.Fprintln(out, "  gc-orphans --dry-run  report orphaned partial data files")
	fmt.Fprintln(out, "  config init           write the default config file")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Global flags: --root, --addr, --config, --cwd, --help")
}

func runServe(out, errOut io.Writer, cfg config.Config, workDir string, sigCh <-chan os.Signal) int {
	root := cfg.Root
	if !filepath.IsAbs(root) {
		root = filepath.Join(workDir, root)
	}

	fsys := fs.NewReal()
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	cache, err := metacache.New(metacache.DefaultSize)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	srv := &httpapi.Server{
		Root:     root,
		FS:       fsys,
		Registry: engine.NewRegistry(),
		Cache:    cache,
		Logger:   slog.New(slog.NewTextHandler(errOut, nil)),
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		fmt.Fprintf(out, "listening on %s, root=%s\n", cfg.Addr, root)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintln(errOut, "error:", err)

			return 1
		}

		return 0
	case <-sigCh:
		fmt.Fprintln(errOut, "shutting down with", shutdownGrace, "grace period...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			fmt.Fprintln(errOut, "graceful shutdown timed out, forced exit (130)")

			return 130
		}

		return 0
	}
}

func runConfig(out, errOut io.Writer, workDir string, args []string) int {
	if len(args) == 0 || args[0] != "init" {
		fmt.Fprintln(errOut, "error: usage: streamstored config init")

		return 1
	}

	path := filepath.Join(workDir, config.ConfigFileName)
	if err := config.WriteDefault(path); err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	fmt.Fprintln(out, "wrote", path)

	return 0
}

// runGCOrphans is a read-only reporting subcommand listing
// {item_id}_{version}.xml files with no committed metadata version >=
// their version. It never mutates the store.
func runGCOrphans(out, errOut io.Writer, cfg config.Config, workDir string, args []string) int {
	root := cfg.Root
	if !filepath.IsAbs(root) {
		root = filepath.Join(workDir, root)
	}

	orphans, err := findOrphans(root)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	if len(orphans) == 0 {
		fmt.Fprintln(out, "no orphaned data files found")

		return 0
	}

	for _, o := range orphans {
		fmt.Fprintln(out, o)
	}

	return 0
}

func findOrphans(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	committed := make(map[string]uint64)
	dataFiles := make(map[string][]string)

	for _, e := range entries {
		name := e.Name()

		if strings.HasSuffix(name, "_metadata.xml") {
			itemID := strings.TrimSuffix(name, "_metadata.xml")

			raw, err := os.ReadFile(filepath.Join(root, name))
			if err != nil {
				continue
			}

			committed[itemID] = engine.DecodeCommittedVersion(raw)

			continue
		}

		if strings.HasSuffix(name, ".xml") {
			base := strings.TrimSuffix(name, ".xml")

			idx := strings.LastIndex(base, "_")
			if idx < 0 {
				continue
			}

			itemID, verStr := base[:idx], base[idx+1:]
			dataFiles[itemID] = append(dataFiles[itemID], verStr)
		}
	}

	var orphans []string

	for itemID, versions := range dataFiles {
		for _, verStr := range versions {
			var version uint64
			if _, err := fmt.Sscanf(verStr, "%d", &version); err != nil {
				continue
			}

			if version > committed[itemID] {
				orphans = append(orphans, fmt.Sprintf("%s_%s.xml", itemID, verStr))
			}
		}
	}

	return orphans, nil
}
