package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/pbaille/xmptags/internal/api"
	"github.com/pbaille/xmptags/internal/config"
	"github.com/pbaille/xmptags/internal/importer"
	"github.com/pbaille/xmptags/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var (
	libraryDir string
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "xmptags",
		Short: "Import tags from XMP metadata into a tag library",
		Long: `xmptags keeps a tag library for a directory of images and imports tags
from XMP metadata, either embedded in JPEG files or stored in .xmp sidecars.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.PathFor(libraryDir, store.DataDir)
			}
			var err error
			cfg, err = config.Load(path)
			if err != nil {
				return err
			}

			logger, err = newLogger(cfg.Logging.Level, verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	cwd, _ := os.Getwd()
	rootCmd.PersistentFlags().StringVarP(&libraryDir, "library", "L", cwd, "library directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <library>/.xmptags/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(tagsCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc.Level = lvl
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zc.Build()
}

func getStore() (*store.Store, error) {
	return store.Open(libraryDir)
}

func addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add [paths...]",
		Short: "Register files in the library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			for _, arg := range args {
				rel, err := libraryRelative(s.Dir(), arg)
				if err != nil {
					return err
				}
				entry, err := s.AddEntry(rel)
				if err != nil {
					return err
				}
				fmt.Printf("Added entry: %s  %s\n", entry.ID[:8], entry.Path)
			}
			return nil
		},
	}
}

// libraryRelative resolves path against the working directory and returns it
// relative to the library root
func libraryRelative(root, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the library %s", path, root)
	}
	return rel, nil
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Register every image under the library directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			exts := make(map[string]bool)
			for _, ext := range cfg.Import.ImageExtensions {
				exts[strings.ToLower(ext)] = true
			}

			count := 0
			err = filepath.WalkDir(s.Dir(), func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
					return nil
				}
				if d.IsDir() {
					if d.Name() == store.DataDir {
						return filepath.SkipDir
					}
					return nil
				}
				if !exts[strings.ToLower(filepath.Ext(path))] {
					return nil
				}

				rel, err := filepath.Rel(s.Dir(), path)
				if err != nil {
					return err
				}
				if _, err := s.AddEntry(rel); err != nil {
					return err
				}
				logger.Debug("registered entry", zap.String("path", rel))
				count++
				return nil
			})
			if err != nil {
				return err
			}

			fmt.Printf("Registered %d files\n", count)
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List library entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.ListEntries(limit, 0)
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("No entries yet. Use 'xmptags scan' or 'xmptags add' to register files.")
				return nil
			}

			for _, e := range entries {
				fmt.Printf("%s  %s\n", e.ID[:8], e.Path)
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show entry details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			// Find entry by prefix
			entry, err := s.FindEntryByPrefix(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("ID:      %s\n", entry.ID)
			fmt.Printf("Created: %s\n", entry.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Path:    %s\n", entry.Path)

			if len(entry.Tags) > 0 {
				fmt.Printf("\nTags:\n")
				for _, t := range entry.Tags {
					fmt.Printf("  - %s\n", t.Name)
				}
			}

			return nil
		},
	}
}

func tagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List all tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			tags, err := s.ListTags()
			if err != nil {
				return err
			}

			if len(tags) == 0 {
				fmt.Println("No tags yet. Use 'xmptags import' to import them from XMP metadata.")
				return nil
			}

			// Print tree
			var printTree func(node api.TagNode, indent int)
			printTree = func(node api.TagNode, indent int) {
				prefix := strings.Repeat("  ", indent)
				if len(node.Aliases) > 0 {
					fmt.Printf("%s%s (%s)\n", prefix, node.Name, strings.Join(node.Aliases, ", "))
				} else {
					fmt.Printf("%s%s\n", prefix, node.Name)
				}
				for _, child := range node.Children {
					printTree(child, indent+1)
				}
			}

			for _, root := range api.BuildTree(tags) {
				printTree(root, 0)
			}

			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Search entries by path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.SearchEntries(args[0])
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("No matching entries found.")
				return nil
			}

			for _, e := range entries {
				fmt.Printf("%s  %s\n", e.ID[:8], e.Path)
			}

			return nil
		},
	}
}

func importCmd() *cobra.Command {
	var (
		dryRun   bool
		noCreate bool
		workers  int
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import tags from embedded metadata and .xmp sidecar files",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			importCfg := cfg.Import
			if cmd.Flags().Changed("workers") {
				importCfg.Workers = workers
			}

			im := importer.New(s, importCfg, logger)
			im.OnComplete = func(r *importer.Report) {
				fmt.Printf("Library updated: %d tags created, %d tags linked\n", r.TagsCreated, r.TagsLinked)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			fmt.Println("Import XMP Tags")
			if dryRun {
				fmt.Println("(preview, nothing will be written)")
			}

			report, err := im.Run(ctx, importer.Options{DryRun: dryRun, NoCreate: noCreate})
			if err != nil {
				return err
			}

			printReport(report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview the import without changing the library")
	cmd.Flags().BoolVar(&noCreate, "no-create", false, "only link tags that already exist")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "files read concurrently")
	return cmd
}

func printReport(r *importer.Report) {
	for _, e := range r.Entries {
		switch e.Status {
		case importer.StatusImported:
			if len(e.Linked) == 0 && len(e.Unmatched) == 0 {
				continue
			}
			fmt.Printf("%s (%s)\n", e.Path, e.Source)
			for _, name := range e.Linked {
				fmt.Printf("  + %s\n", name)
			}
			for _, name := range e.Unmatched {
				fmt.Printf("  ? %s (no matching tag)\n", name)
			}
		case importer.StatusFailed, importer.StatusMissing:
			fmt.Printf("%s: %s: %s\n", e.Path, e.Status, e.Error)
		}
	}

	fmt.Printf("\nScanned %d, imported %d, skipped %d, failed %d\n", r.Scanned, r.Imported, r.Skipped, r.Failed)
	verb := "Created"
	if r.DryRun {
		verb = "Would create"
	}
	fmt.Printf("%s %d tags, %d links\n", verb, r.TagsCreated, r.TagsLinked)
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			// Note: don't defer s.Close() as server runs indefinitely

			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}

			im := importer.New(s, cfg.Import, logger)
			server := api.New(s, im, addr, logger)
			return server.Run()
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "server address")
	return cmd
}

func configCmd() *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if write {
				path := configPath
				if path == "" {
					path = config.PathFor(libraryDir, store.DataDir)
				}
				if err := cfg.Save(path); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
				return nil
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "write the configuration file")
	return cmd
}
