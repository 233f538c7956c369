package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"lwepub/lib/cachestore"
	"lwepub/lib/imagestore"
	"lwepub/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var clearKind *string

func init() {
	clearKind = cacheClearCmd.Flags().String("kind", "all", "Which entries to clear: page, post, urls or all.")
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspects and clears the scrape cache.",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [--kind page|post|urls|all]",
	Short: "Drops cached pages, posts or url lists. Downloaded images stay.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := readConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		db, err := cachestore.Open(cfg.CacheDir)
		if err != nil {
			serviceutil.Fatal("failed to open page cache", err)
		}
		defer db.Close()
		store := cachestore.NewStore(db)

		kind := cachestore.Kind(*clearKind)
		switch kind {
		case cachestore.PAGE, cachestore.POST, cachestore.URL_LIST:
			err = store.Clear(cmd.Context(), kind)
		case "all":
			err = store.ClearAll(cmd.Context())
		default:
			serviceutil.Fatal("unknown cache kind",
				fmt.Errorf("%q is not page, post, urls or all", *clearKind))
		}
		if err != nil {
			serviceutil.Fatal("failed to clear cache", err)
		}
		fmt.Println("cleared:", *clearKind)
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints entry counts for the scrape cache and the image store.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := readConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		db, err := cachestore.Open(cfg.CacheDir)
		if err != nil {
			serviceutil.Fatal("failed to open page cache", err)
		}
		defer db.Close()
		store := cachestore.NewStore(db)

		stats, err := store.Stats(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to read cache stats", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Kind", "Entries", "Bytes"})
		for _, s := range stats {
			t.AppendRow(table.Row{string(s.Kind), s.Entries, s.Bytes})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()

		images, err := imagestore.NewStore(imagestore.Options{
			Dir:       cfg.Images.Dir,
			IndexPath: filepath.Join(cfg.Images.Dir, "assets.db"),
			UserAgent: cfg.Site.UserAgent,
		})
		if err != nil {
			serviceutil.Fatal("failed to open image store", err)
		}
		defer images.Close()

		counts, err := images.Stats(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to read image stats", err)
		}

		it := table.NewWriter()
		it.SetOutputMirror(os.Stdout)
		it.AppendHeader(table.Row{"Images", "Count"})
		for _, status := range []imagestore.Status{
			imagestore.STATUS_DOWNLOADED,
			imagestore.STATUS_PLACEHOLDER_SKIPPED,
			imagestore.STATUS_PLACEHOLDER_ERROR,
		} {
			it.AppendRow(table.Row{string(status), counts[status]})
		}
		it.SetStyle(table.StyleRounded)
		it.Render()
	},
}
