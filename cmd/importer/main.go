// Command importer parses bank and wallet statements into unified drafts and
// commits them to a workspace without duplicating previously imported rows.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/statement-import/internal/domain/import/profile"
	"github.com/FACorreiaa/statement-import/internal/domain/import/repository"
	"github.com/FACorreiaa/statement-import/internal/domain/import/service"
	"github.com/FACorreiaa/statement-import/pkg/config"
	"github.com/FACorreiaa/statement-import/pkg/db"
)

// parseConcurrency bounds how many files are parsed at once.
const parseConcurrency = 4

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[2:]
	switch os.Args[1] {
	case "parse":
		err = runParse(ctx, cfg, logger, args)
	case "commit":
		err = runCommit(ctx, cfg, logger, args)
	case "profiles":
		err = runProfiles(ctx, cfg, logger)
	case "migrate":
		err = runMigrate(ctx, cfg, logger)
	case "purge":
		err = runPurge(ctx, cfg, logger, args)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Statement importer")
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  importer <command> [options] [files...]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  parse     Parse statements and print the drafts")
	fmt.Fprintln(w, "  commit    Parse statements and commit them to a workspace")
	fmt.Fprintln(w, "  profiles  List the known statement sources")
	fmt.Fprintln(w, "  migrate   Apply database migrations")
	fmt.Fprintln(w, "  purge     Delete every imported transaction of a workspace (postgres)")
	fmt.Fprintln(w, "  help      Show this help message")
	fmt.Fprintln(w, "\nRun 'importer <command> -h' for more information on a command.")
}

type uploadFlags struct {
	source *string
	kind   *string
}

func bindUploadFlags(fs *flag.FlagSet) uploadFlags {
	return uploadFlags{
		source: fs.String("source", "", "source id to use instead of auto-detection"),
		kind:   fs.String("type", "", "declared type: tabular, spreadsheet or pdf_text (default: from extension)"),
	}
}

func (u uploadFlags) upload(path string, data []byte) service.Upload {
	return service.Upload{
		Data:         data,
		FileName:     filepath.Base(path),
		SourceHint:   *u.source,
		DeclaredType: *u.kind,
	}
}

func runParse(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	uf := bindUploadFlags(fs)
	format := fs.String("format", formatJSON, "output format: json or csv")
	_ = fs.Parse(args)

	files := fs.Args()
	if len(files) == 0 {
		return errors.New("at least one file is required")
	}

	deps, err := InitDependencies(ctx, cfg, logger, initOptions{})
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	results := parseFiles(ctx, deps.ImportService, uf, files, logger)
	if err := writeResults(os.Stdout, *format, results); err != nil {
		return err
	}
	return failedFiles(results)
}

// parseFiles parses every file concurrently. Each file fails on its own so
// one bad statement does not hide the rest.
func parseFiles(ctx context.Context, svc *service.ImportService, uf uploadFlags, files []string, logger *slog.Logger) []fileResult {
	results := make([]fileResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parseConcurrency)
	for i, path := range files {
		g.Go(func() error {
			results[i].File = path
			data, err := os.ReadFile(path)
			if err != nil {
				results[i].Error = fmt.Sprintf("failed to read file: %v", err)
				return nil
			}
			preview, err := svc.Parse(gctx, uf.upload(path, data))
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Result = preview.Result
			svc.Discard(preview.ID)
			for _, w := range preview.Result.Warnings {
				logger.Debug("row skipped", "file", path, "warning", w.String())
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runCommit(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("commit", flag.ExitOnError)
	uf := bindUploadFlags(fs)
	workspace := fs.String("workspace", "", "workspace id (uuid)")
	dryRun := fs.Bool("dry-run", false, "deduplicate against an in-memory store only")
	_ = fs.Parse(args)

	workspaceID, err := uuid.Parse(*workspace)
	if err != nil {
		return fmt.Errorf("invalid -workspace: %w", err)
	}
	files := fs.Args()
	if len(files) == 0 {
		return errors.New("at least one file is required")
	}

	deps, err := InitDependencies(ctx, cfg, logger, initOptions{NeedStore: true, DryRun: *dryRun})
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	// Files commit in argument order so overlapping statements dedup
	// against each other predictably.
	results := make([]fileResult, len(files))
	for i, path := range files {
		results[i].File = path
		data, err := os.ReadFile(path)
		if err != nil {
			results[i].Error = fmt.Sprintf("failed to read file: %v", err)
			continue
		}
		preview, err := deps.ImportService.Parse(ctx, uf.upload(path, data))
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		results[i].Result = preview.Result

		outcome, err := deps.ImportService.CommitPreview(ctx, workspaceID, preview.ID)
		if err != nil {
			results[i].Error = err.Error()
			deps.ImportService.Discard(preview.ID)
			continue
		}
		results[i].Outcome = outcome
		logger.Info("statement committed",
			slog.String("file", path),
			slog.Int("inserted", outcome.InsertedCount),
			slog.Int("skipped_duplicates", outcome.SkippedDuplicateCount),
			slog.Bool("dry_run", *dryRun),
		)
	}

	if err := writeResults(os.Stdout, formatJSON, results); err != nil {
		return err
	}
	return failedFiles(results)
}

func runProfiles(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	deps, err := InitDependencies(ctx, cfg, logger, initOptions{})
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tNAME\tKINDS\tCURRENCY")
	for _, p := range deps.Registry.Profiles() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.SourceID, p.DisplayName, kindNames(p), p.DefaultCurrency)
	}
	return tw.Flush()
}

// kindNames lists the kinds a profile resolved to, declared or implied.
func kindNames(p *profile.MappingProfile) string {
	kinds := p.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, ",")
}

func runMigrate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	database, err := db.New(ctx, db.Config{
		DSN:      cfg.Database.DSN(),
		MaxConns: int32(cfg.Database.MaxConns),
	}, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	return database.RunMigrations(ctx)
}

func runPurge(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	workspace := fs.String("workspace", "", "workspace id (uuid)")
	confirm := fs.Bool("confirm", false, "required; deletion cannot be undone")
	_ = fs.Parse(args)

	workspaceID, err := uuid.Parse(*workspace)
	if err != nil {
		return fmt.Errorf("invalid -workspace: %w", err)
	}
	if !*confirm {
		return errors.New("refusing to purge without -confirm")
	}
	if cfg.Store.Backend != config.StorePostgres {
		return fmt.Errorf("purge needs STORE_BACKEND=%s, got %q", config.StorePostgres, cfg.Store.Backend)
	}

	database, err := db.New(ctx, db.Config{
		DSN:      cfg.Database.DSN(),
		MaxConns: int32(cfg.Database.MaxConns),
	}, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	deleted, err := repository.NewPostgresTransactionStore(database.Pool).DeleteWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	logger.Info("workspace purged", slog.String("workspace_id", workspaceID.String()), slog.Int64("deleted", deleted))
	return nil
}

func failedFiles(results []fileResult) error {
	var failed []string
	for _, r := range results {
		if r.Error != "" {
			failed = append(failed, r.File)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d files failed: %s", len(failed), len(results), strings.Join(failed, ", "))
	}
	return nil
}
