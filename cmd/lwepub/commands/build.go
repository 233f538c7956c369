package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"lwepub/lib/cachestore"
	"lwepub/lib/ebook"
	"lwepub/lib/fetch"
	"lwepub/lib/imagestore"
	"lwepub/lib/restyutil"
	"lwepub/lib/scrapers/lesswrong"
	"lwepub/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var buildOutput *string
var buildTitle *string
var buildAuthor *string
var buildFile *string
var buildSequence *string
var buildSequenceList *string
var buildBestOf *bool
var buildYear *string
var buildCategory *string
var buildLimit *int
var buildSplit *int
var buildNoCache *bool
var buildCacheTtl *time.Duration
var buildMaxImageWidth *int
var buildMaxImageBytes *int
var buildJpegQuality *int
var buildDebugHttp *string

func init() {
	flags := buildCmd.Flags()
	buildOutput = flags.StringP("output", "o", "lesswrong_ebook.epub", "Output EPUB filename.")
	buildTitle = flags.String("title", "LessWrong Collection", "Title of the EPUB book.")
	buildAuthor = flags.String("author", "LessWrong Community", "Author of the EPUB book.")
	buildFile = flags.String("file", "", "Path to a text file containing post URLs.")
	buildSequence = flags.String("sequence", "", "URL of a LessWrong sequence.")
	buildSequenceList = flags.String("sequence-list", "", "URL of a page listing multiple sequences, like /codex or /highlights.")
	buildBestOf = flags.Bool("bestof", false, "Download from 'The Best of LessWrong'. Use with --year/--category.")
	buildYear = flags.String("year", "all", "Year for 'Best of' (e.g. 2023, all).")
	buildCategory = flags.String("category", "all", "Category for 'Best of' (e.g. 'AI Strategy', all).")
	buildLimit = flags.Int("limit", 0, "Cap on the number of posts, 0 takes everything.")
	buildSplit = flags.Int("split", 0, "Posts per volume, 0 keeps a single volume.")
	buildNoCache = flags.Bool("no-cache", false, "Refetch pages and posts instead of reading the cache.")
	buildCacheTtl = flags.Duration("cache-ttl", time.Hour*24*7, "Maximum age of cached entries, 0 keeps them forever.")
	buildMaxImageWidth = flags.Int("max-image-width", 800, "Downscale images wider than this many pixels.")
	buildMaxImageBytes = flags.Int("max-image-bytes", 5*1024*1024, "Exclude images still larger than this many bytes after optimization.")
	buildJpegQuality = flags.Int("jpeg-quality", imagestore.DEFAULT_JPEG_QUALITY, "JPEG quality used when re-encoding images.")
	buildDebugHttp = flags.String("debug-http", "", "Dump every network request and response into this directory.")

	buildCmd.MarkFlagsMutuallyExclusive("file", "sequence", "sequence-list", "bestof")
	buildCmd.MarkFlagsOneRequired("file", "sequence", "sequence-list", "bestof")
	rootCmd.AddCommand(buildCmd)
}

var buildCmd = &cobra.Command{
	Use:   "build (--file <urls.txt> | --sequence <url> | --sequence-list <url> | --bestof) [-o <out.epub>]",
	Short: "Scrapes the selected posts and binds them into an EPUB.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := readConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		db, err := cachestore.Open(cfg.CacheDir)
		if err != nil {
			serviceutil.Fatal("failed to open page cache", err)
		}
		defer db.Close()
		cache := cachestore.NewStore(db)

		limiter := fetch.NewFixedDelay(time.Duration(cfg.Site.RequestDelayMs) * time.Millisecond)

		var transcripts restyutil.Output
		if *buildDebugHttp != "" {
			output, err := restyutil.NewFilesystemOutput(*buildDebugHttp)
			if err != nil {
				serviceutil.Fatal("failed to set up http transcripts", err)
			}
			transcripts = output
		}

		images, err := imagestore.NewStore(imagestore.Options{
			Dir:          cfg.Images.Dir,
			IndexPath:    filepath.Join(cfg.Images.Dir, "assets.db"),
			UserAgent:    cfg.Site.UserAgent,
			BlockedHosts: cfg.Images.BlockedHosts,
			RetryDelay:   time.Duration(cfg.Images.RetryDelayMs) * time.Millisecond,
			Limiter:      limiter,
			Transcripts:  transcripts,
		})
		if err != nil {
			serviceutil.Fatal("failed to open image store", err)
		}
		defer images.Close()

		fetcher, err := fetch.NewFetcher(fetch.Options{
			BaseURL:     cfg.Site.BaseUrl,
			UserAgent:   cfg.Site.UserAgent,
			Cache:       cache,
			MaxAge:      *buildCacheTtl,
			NoCache:     *buildNoCache,
			Limiter:     limiter,
			Robots:      fetch.NewRobots(cfg.Site.UserAgent),
			Transcripts: transcripts,
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize fetcher", err)
		}

		client := lesswrong.NewClient(lesswrong.ClientOptions{
			Fetcher: fetcher,
			Images:  images,
			Cache:   cache,
			MaxAge:  *buildCacheTtl,
			NoCache: *buildNoCache,
		})

		postUrls, err := collectPostUrls(ctx, client)
		if err != nil {
			serviceutil.Fatal("failed to collect post urls", err)
		}
		slog.Info("collected post urls", "count", len(postUrls))

		builder := ebook.NewBuilder(ebook.BuilderOptions{
			Client: client,
			Images: images,
			Limits: imagestore.Limits{
				MaxWidth:    *buildMaxImageWidth,
				MaxBytes:    *buildMaxImageBytes,
				JpegQuality: *buildJpegQuality,
			},
			Title:      *buildTitle,
			Author:     *buildAuthor,
			Output:     *buildOutput,
			Limit:      *buildLimit,
			SplitEvery: *buildSplit,
		})

		t1 := time.Now()
		summary, err := builder.Build(ctx, postUrls)
		if err != nil {
			serviceutil.Fatal("build failed", err)
		}
		printSummary(summary, time.Since(t1))
	},
}

func collectPostUrls(ctx context.Context, client lesswrong.Client) ([]string, error) {
	switch {
	case *buildFile != "":
		return client.PostURLsFromFile(ctx, *buildFile)
	case *buildSequence != "":
		return client.SequencePosts(ctx, *buildSequence)
	case *buildSequenceList != "":
		return client.SequenceListPosts(ctx, *buildSequenceList)
	case *buildBestOf:
		return client.BestOfPosts(ctx, *buildYear, *buildCategory)
	}
	// cobra enforces that one source flag is present
	return nil, errors.New("no post source given")
}

func printSummary(summary ebook.Summary, elapsed time.Duration) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Posts", "Failed", "Images", "Excluded", "Volumes", "Took"})
	t.AppendRow(table.Row{
		summary.PostsRequested,
		summary.PostsFailed,
		summary.ImagesIncluded,
		summary.ImagesExcluded,
		len(summary.Volumes),
		elapsed.Round(time.Millisecond),
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
