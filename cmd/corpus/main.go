// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command corpus is the CLI for the corpus document pipeline.
//
// Usage:
//
//	corpus ingest docs/ --config corpus.yaml
//	corpus search "quoted phrase loose terms" --top-k 5
//	corpus bulk delete --doc-type draft --backup drafts.json
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/corpus/pkg/bulk"
	"github.com/kadirpekel/corpus/pkg/config"
	"github.com/kadirpekel/corpus/pkg/corpus"
	"github.com/kadirpekel/corpus/pkg/ingest"
	"github.com/kadirpekel/corpus/pkg/loader"
	"github.com/kadirpekel/corpus/pkg/observability"
	"github.com/kadirpekel/corpus/pkg/search"
	"github.com/kadirpekel/corpus/pkg/store"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Ingest  IngestCmd  `cmd:"" help:"Ingest documents into the store."`
	Search  SearchCmd  `cmd:"" help:"Run a hybrid search query."`
	Delete  DeleteCmd  `cmd:"" help:"Delete a single document by ID."`
	Bulk    BulkCmd    `cmd:"" help:"Filtered bulk operations (preview, export, delete, restore)."`
	Watch   WatchCmd   `cmd:"" help:"Watch a directory and keep the index in sync."`
	Stats   StatsCmd   `cmd:"" help:"Show runtime counters."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"corpus.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (text or json)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("corpus version %s\n", version)
	return nil
}

// IngestCmd ingests one or more sources.
type IngestCmd struct {
	Locators []string          `arg:"" help:"Files, directories or URLs to ingest."`
	Force    bool              `help:"Re-index even when the content fingerprint is unchanged."`
	Type     string            `help:"Document type tag (defaults to the loader's name)."`
	Meta     map[string]string `help:"Extra metadata merged into every chunk (key=value)." mapsep:","`
}

func (c *IngestCmd) Run(cli *CLI) error {
	return withCorpus(cli, func(ctx context.Context, cp *corpus.Corpus) error {
		locators, err := expandLocators(c.Locators)
		if err != nil {
			return err
		}
		if len(locators) == 0 {
			return fmt.Errorf("nothing to ingest")
		}
		opts := ingest.Options{
			ForceReindex: c.Force,
			DocumentType: c.Type,
			Metadata:     c.Meta,
		}
		results := cp.IngestBatch(ctx, locators, opts)

		var failed int
		for _, r := range results {
			switch r.Status {
			case ingest.StatusFailed:
				failed++
				fmt.Printf("%-8s %s: %v\n", r.Status, r.Locator, r.Err)
			default:
				fmt.Printf("%-8s %s (%s, %d chunks)\n", r.Status, r.Locator, r.DocumentID, r.ChunksWritten)
			}
		}
		st := cp.Stats().Ingest
		fmt.Printf("\n%d indexed, %d skipped, %d failed in %s\n",
			st.IndexedDocs, st.SkippedDocs, st.FailedDocs, st.Elapsed.Round(time.Millisecond))
		if failed > 0 {
			return fmt.Errorf("%d source(s) failed", failed)
		}
		return nil
	})
}

// SearchCmd runs a hybrid query.
type SearchCmd struct {
	Query    string  `arg:"" help:"Query text. Double-quote phrases for exact matching."`
	TopK     int     `help:"Number of results." default:"10"`
	MinScore float64 `help:"Drop results scoring below this threshold." default:"0"`
	Alpha    float64 `help:"Vector/lexical blend weight (0..1, -1 = use config)." default:"-1"`
	JSON     bool    `help:"Emit results as JSON."`

	FilterFlags
}

func (c *SearchCmd) Run(cli *CLI) error {
	return withCorpus(cli, func(ctx context.Context, cp *corpus.Corpus) error {
		opts := search.Options{
			TopK:     c.TopK,
			MinScore: c.MinScore,
			Alpha:    c.Alpha,
			Filter:   c.Filter(),
		}
		results, err := cp.Search(ctx, c.Query, opts)
		if err != nil {
			return err
		}
		if c.JSON {
			return printJSON(results)
		}
		if len(results) == 0 {
			fmt.Println("no results")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%2d. [%.4f] %s #%d (%s)\n", i+1, r.Score,
				r.Chunk.DocumentID, r.Chunk.ChunkIndex, r.Chunk.SourceURI)
			fmt.Printf("    %s\n", snippet(r.Chunk.TextContent, 160))
		}
		return nil
	})
}

// DeleteCmd removes one document and all its chunks.
type DeleteCmd struct {
	DocumentID string `arg:"" help:"Document ID (e.g. doc-a1b2c3d4e5f60718)."`
}

func (c *DeleteCmd) Run(cli *CLI) error {
	return withCorpus(cli, func(ctx context.Context, cp *corpus.Corpus) error {
		n, err := cp.DeleteDocument(ctx, c.DocumentID)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d chunk(s) of %s\n", n, c.DocumentID)
		return nil
	})
}

// BulkCmd groups the filtered bulk operations.
type BulkCmd struct {
	Preview BulkPreviewCmd `cmd:"" help:"Show what a filter would affect, without changing anything."`
	Export  BulkExportCmd  `cmd:"" help:"Export matching chunks to a backup file."`
	Delete  BulkDeleteCmd  `cmd:"" help:"Delete matching chunks (exports a backup first unless --no-backup)."`
	Restore BulkRestoreCmd `cmd:"" help:"Restore chunks from a backup file."`
}

// BulkPreviewCmd reports matched documents and chunks.
type BulkPreviewCmd struct {
	FilterFlags
	JSON bool `help:"Emit the preview as JSON."`
}

func (c *BulkPreviewCmd) Run(cli *CLI) error {
	return withCorpus(cli, func(ctx context.Context, cp *corpus.Corpus) error {
		preview, err := cp.BulkPreview(ctx, c.Filter())
		if err != nil {
			return err
		}
		if c.JSON {
			return printJSON(preview)
		}
		fmt.Printf("%d document(s), %d chunk(s) match\n",
			preview.MatchedDocuments, preview.MatchedChunks)
		for _, s := range preview.Sample {
			fmt.Printf("  %s (%d chunks, %s)\n", s.DocumentID, s.ChunkCount, s.SourceURI)
			if s.Snippet != "" {
				fmt.Printf("    %s\n", s.Snippet)
			}
		}
		return nil
	})
}

// BulkExportCmd writes matching chunks to a backup file.
type BulkExportCmd struct {
	FilterFlags
	Output string `short:"o" help:"Backup file path." type:"path" required:""`
}

func (c *BulkExportCmd) Run(cli *CLI) error {
	return withCorpus(cli, func(ctx context.Context, cp *corpus.Corpus) error {
		record, err := cp.BulkExport(ctx, c.Filter())
		if err != nil {
			return err
		}
		if err := record.WriteFile(c.Output); err != nil {
			return err
		}
		fmt.Printf("exported %d chunk(s) across %d document(s) to %s (backup %s)\n",
			len(record.Chunks), len(record.DocumentIDs()), c.Output, record.ID)
		return nil
	})
}

// BulkDeleteCmd deletes matching chunks, exporting a backup first by
// default.
type BulkDeleteCmd struct {
	FilterFlags
	Backup   string `help:"Backup file path (default: corpus-backup-<id>.json)." type:"path"`
	NoBackup bool   `help:"Skip the backup export and delete immediately."`
	Yes      bool   `short:"y" help:"Skip the confirmation prompt."`
}

func (c *BulkDeleteCmd) Run(cli *CLI) error {
	return withCorpus(cli, func(ctx context.Context, cp *corpus.Corpus) error {
		f := c.Filter()
		if !c.Yes {
			preview, err := cp.BulkPreview(ctx, f)
			if err != nil {
				return err
			}
			fmt.Printf("about to delete %d chunk(s) across %d document(s); continue? [y/N] ",
				preview.MatchedChunks, preview.MatchedDocuments)
			var answer string
			fmt.Scanln(&answer)
			if answer != "y" && answer != "Y" && answer != "yes" {
				fmt.Println("aborted")
				return nil
			}
		}

		if c.NoBackup {
			n, err := cp.BulkDelete(ctx, f)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d chunk(s)\n", n)
			return nil
		}

		record, n, err := cp.BulkDeleteWithExport(ctx, f)
		if err != nil {
			return err
		}
		path := c.Backup
		if path == "" {
			path = fmt.Sprintf("corpus-backup-%s.json", record.ID)
		}
		if err := record.WriteFile(path); err != nil {
			return fmt.Errorf("chunks deleted but backup write failed: %w", err)
		}
		fmt.Printf("deleted %d chunk(s); backup written to %s\n", n, path)
		return nil
	})
}

// BulkRestoreCmd re-inserts chunks from a backup file.
type BulkRestoreCmd struct {
	File string `arg:"" help:"Backup file produced by export or delete." type:"path"`
}

func (c *BulkRestoreCmd) Run(cli *CLI) error {
	return withCorpus(cli, func(ctx context.Context, cp *corpus.Corpus) error {
		record, err := bulk.ReadBackupFile(c.File)
		if err != nil {
			return err
		}
		result, err := cp.BulkRestore(ctx, record)
		if result != nil {
			fmt.Printf("restored %d document(s) (%d chunks), skipped %d already-present\n",
				result.RestoredDocuments, result.RestoredChunks, result.SkippedDocuments)
			for _, id := range result.Conflicts {
				fmt.Printf("  conflict: %s has diverging live data\n", id)
			}
		}
		return err
	})
}

// WatchCmd watches a directory and keeps the index in sync.
type WatchCmd struct {
	Path  string            `arg:"" optional:"" help:"Directory to watch (defaults to the configured watcher path)." type:"path"`
	Force bool              `help:"Re-index files even when unchanged."`
	Type  string            `help:"Document type tag for ingested files."`
	Meta  map[string]string `help:"Extra metadata merged into every chunk (key=value)." mapsep:","`
}

func (c *WatchCmd) Run(cli *CLI) error {
	return withCorpusConfig(cli, func(ctx context.Context, cfg *config.Config, cp *corpus.Corpus) error {
		wcfg := cfg.Watcher
		if c.Path != "" {
			wcfg.Path = c.Path
		}
		if wcfg.Path == "" {
			return fmt.Errorf("no path given and no watcher.path configured")
		}
		opts := ingest.Options{
			ForceReindex: c.Force,
			DocumentType: c.Type,
			Metadata:     c.Meta,
		}
		w, err := cp.Watch(ctx, wcfg, opts)
		if err != nil {
			return err
		}
		defer w.Stop()

		fmt.Printf("watching %s (Ctrl+C to stop)\n", wcfg.Path)
		<-ctx.Done()
		return nil
	})
}

// StatsCmd prints runtime counters.
type StatsCmd struct {
	JSON bool `help:"Emit stats as JSON."`
}

func (c *StatsCmd) Run(cli *CLI) error {
	return withCorpus(cli, func(ctx context.Context, cp *corpus.Corpus) error {
		s := cp.Stats()
		if c.JSON {
			return printJSON(s)
		}
		fmt.Printf("documents: %d total, %d indexed, %d skipped, %d failed\n",
			s.Ingest.TotalDocs, s.Ingest.IndexedDocs, s.Ingest.SkippedDocs, s.Ingest.FailedDocs)
		fmt.Printf("chunks written: %d\n", s.Ingest.ChunksWritten)
		fmt.Printf("embedding cache: %d entries, %d hits, %d misses\n",
			s.CacheEntries, s.CacheHits, s.CacheMisses)
		return nil
	})
}

// FilterFlags are the shared filter options for search and bulk commands.
type FilterFlags struct {
	DocID      string            `name:"doc-id" help:"Match a single document ID."`
	DocType    string            `name:"doc-type" help:"Match the document_type metadata value."`
	URIPattern string            `name:"uri-pattern" help:"SQL LIKE pattern over source URIs (e.g. 'docs/%')."`
	MetaFilter map[string]string `name:"meta-filter" help:"Match metadata values exactly (key=value)." mapsep:","`
}

// Filter converts the flags to a store filter.
func (f FilterFlags) Filter() store.Filter {
	return store.Filter{
		DocumentID:       f.DocID,
		DocumentType:     f.DocType,
		SourceURIPattern: f.URIPattern,
		Metadata:         f.MetaFilter,
	}
}

// withCorpus loads config, opens the corpus and runs fn with a
// signal-cancelled context.
func withCorpus(cli *CLI, fn func(context.Context, *corpus.Corpus) error) error {
	return withCorpusConfig(cli, func(ctx context.Context, _ *config.Config, cp *corpus.Corpus) error {
		return fn(ctx, cp)
	})
}

func withCorpusConfig(cli *CLI, fn func(context.Context, *config.Config, *corpus.Corpus) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	// CLI log flags override the config file.
	logCfg := cfg.Logger
	if cli.LogLevel != "" {
		logCfg.Level = cli.LogLevel
	}
	if cli.LogFile != "" {
		logCfg.File = cli.LogFile
	}
	if cli.LogFormat != "" {
		logCfg.Format = cli.LogFormat
	}
	logger, closer, err := observability.NewLogger(logCfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(logger)

	cp, err := corpus.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cp.Close()

	return fn(ctx, cfg, cp)
}

// expandLocators walks directory arguments, collecting files some loader
// can handle. Plain files and URLs pass through untouched.
func expandLocators(locators []string) ([]string, error) {
	reg := loader.NewRegistry()
	var out []string
	for _, loc := range locators {
		info, err := os.Stat(loc)
		if err != nil || !info.IsDir() {
			out = append(out, loc)
			continue
		}
		root := loc
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if reg.HasLoaderFor(path) {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("corpus"),
		kong.Description("corpus - document ingestion and hybrid retrieval"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
