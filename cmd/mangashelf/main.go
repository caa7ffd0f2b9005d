package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"mangashelf/internal/app"
	"mangashelf/internal/backup"
	"mangashelf/internal/librarysync"
	"mangashelf/pkg/logging"
	"mangashelf/pkg/models"
	"mangashelf/pkg/utils"
)

func main() {
	global := pflag.NewFlagSet("mangashelf", pflag.ExitOnError)
	global.SetInterspersed(false)
	dbPath := global.String("db", "", "database path (overrides config)")
	logLevel := global.String("log-level", "warn", "log level")
	if err := global.Parse(os.Args[1:]); err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	args := global.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	cfg.LogLevel = *logLevel

	zl, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	a, err := app.New(cfg, zl)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "sources":
		handleSources(a, rest)
	case "search", "popular", "latest":
		handleBrowse(ctx, a, cmd, rest)
	case "add":
		handleAdd(ctx, a, rest)
	case "remove":
		handleRemove(ctx, a, rest)
	case "list":
		handleList(ctx, a, rest)
	case "status":
		handleStatus(ctx, a, rest)
	case "sync":
		handleSync(ctx, a, rest)
	case "queue", "cancel", "retry":
		handleTask(ctx, a, cmd, rest)
	case "downloads":
		handleDownloads(ctx, a, rest)
	case "download":
		handleDownloadRun(ctx, a, rest)
	case "export":
		handleExport(ctx, a, rest)
	default:
		printUsage()
		os.Exit(1)
	}
}

func handleSources(a *app.App, args []string) {
	fs := pflag.NewFlagSet("sources", pflag.ExitOnError)
	restricted := fs.Bool("restricted", false, "include restricted sources")
	_ = fs.Parse(args)

	infos := make([]any, 0)
	for _, src := range a.Registry.Available(*restricted) {
		infos = append(infos, src.Info())
	}
	printJSON(infos)
}

func handleBrowse(ctx context.Context, a *app.App, cmd string, args []string) {
	fs := pflag.NewFlagSet(cmd, pflag.ExitOnError)
	page := fs.Int("page", 1, "result page")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 1 || (cmd == "search" && len(rest) < 2) {
		if cmd == "search" {
			log.Fatal("usage: mangashelf search <source> <query> [--page N]")
		}
		log.Fatalf("usage: mangashelf %s <source> [--page N]", cmd)
	}
	src, err := a.Registry.Lookup(rest[0])
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}

	var res models.SearchResult
	switch cmd {
	case "search":
		res, err = src.Search(ctx, strings.Join(rest[1:], " "), *page)
	case "popular":
		res, err = src.Popular(ctx, *page)
	default:
		res, err = src.Latest(ctx, *page)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", cmd, err)
	}
	printJSON(res)
}

func handleAdd(ctx context.Context, a *app.App, args []string) {
	if len(args) != 2 {
		log.Fatal("usage: mangashelf add <source> <url>")
	}
	m, err := a.Library.AddManga(ctx, args[0], args[1])
	if err != nil {
		log.Fatalf("add failed: %v", err)
	}
	fmt.Printf("added %s (%s), %d chapters\n", m.Title, m.ID, len(m.Chapters))
}

func handleRemove(ctx context.Context, a *app.App, args []string) {
	if len(args) != 1 {
		log.Fatal("usage: mangashelf remove <manga-id>")
	}
	if err := a.Library.RemoveFromLibrary(ctx, args[0]); err != nil {
		log.Fatalf("remove failed: %v", err)
	}
	fmt.Println("removed", args[0])
}

func handleList(ctx context.Context, a *app.App, args []string) {
	fs := pflag.NewFlagSet("list", pflag.ExitOnError)
	limit := fs.Int("limit", 100, "page size")
	offset := fs.Int("offset", 0, "offset")
	_ = fs.Parse(args)

	items, err := a.Library.List(ctx, *limit, *offset)
	if err != nil {
		log.Fatalf("list failed: %v", err)
	}
	for _, m := range items {
		fmt.Printf("%-32s %-12s %s\n", m.ID, m.ReadingStatus, m.Title)
	}
}

func handleStatus(ctx context.Context, a *app.App, args []string) {
	if len(args) != 2 {
		log.Fatal("usage: mangashelf status <manga-id> <reading|completed|on_hold|dropped|plan_to_read>")
	}
	m, err := a.Library.SetReadingStatus(ctx, args[0], args[1])
	if err != nil {
		log.Fatalf("status failed: %v", err)
	}
	fmt.Printf("%s is now %s\n", m.ID, m.ReadingStatus)
}

func handleSync(ctx context.Context, a *app.App, ids []string) {
	res, err := a.Scheduler.RunOnce(ctx, ids, func(p librarysync.Progress) {
		fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", p.Current, p.Total, p.Title)
	})
	if err != nil {
		log.Fatalf("sync failed: %v", err)
	}
	fmt.Printf("synced %d titles: %d updated, %d unchanged, %d new chapters, %d failed\n",
		res.Total, res.Updated, res.Unchanged, res.NewChapters, len(res.Failures))
	for _, f := range res.Failures {
		fmt.Printf("  %s (%s): %s: %s\n", f.Title, f.MangaID, f.Kind, f.Message)
	}
}

func handleTask(ctx context.Context, a *app.App, cmd string, args []string) {
	if len(args) != 1 {
		log.Fatalf("usage: mangashelf %s <chapter-id>", cmd)
	}
	var (
		t   *models.DownloadTask
		err error
	)
	switch cmd {
	case "queue":
		t, err = a.Downloads.QueueByID(ctx, args[0])
	case "cancel":
		t, err = a.Downloads.Cancel(ctx, args[0])
	default:
		t, err = a.Downloads.Retry(ctx, args[0])
	}
	if err != nil {
		log.Fatalf("%s failed: %v", cmd, err)
	}
	printJSON(t)
}

func handleDownloads(ctx context.Context, a *app.App, args []string) {
	fs := pflag.NewFlagSet("downloads", pflag.ExitOnError)
	statuses := fs.StringSlice("status", nil, "filter by status (QUEUED, DOWNLOADING, ERROR, ...)")
	_ = fs.Parse(args)

	var filter []models.DownloadStatus
	for _, s := range *statuses {
		st, ok := models.ParseDownloadStatus(strings.ToUpper(strings.TrimSpace(s)))
		if !ok {
			log.Fatalf("unknown status %q", s)
		}
		filter = append(filter, st)
	}
	tasks, err := a.Downloads.List(ctx, filter...)
	if err != nil {
		log.Fatalf("downloads failed: %v", err)
	}
	for _, t := range tasks {
		line := fmt.Sprintf("%-12s %3d/%-3d %s (ch. %g)", t.State.Status, t.State.Downloaded, t.State.Total, t.ChapterID, t.ChapterNumber)
		if t.State.Error != "" {
			line += "  " + t.State.Error
		}
		fmt.Println(line)
	}
}

func handleDownloadRun(ctx context.Context, a *app.App, args []string) {
	if len(args) != 1 || args[0] != "run" {
		log.Fatal("usage: mangashelf download run")
	}
	fmt.Fprintln(os.Stderr, "processing the download queue, Ctrl-C to stop")
	if err := a.Downloads.Run(ctx); err != nil {
		log.Fatalf("download run failed: %v", err)
	}
}

func handleExport(ctx context.Context, a *app.App, args []string) {
	fs := pflag.NewFlagSet("export", pflag.ExitOnError)
	history := fs.Bool("history", false, "export reading history instead of the library")
	_ = fs.Parse(args)

	var err error
	if *history {
		_, err = backup.WriteHistory(ctx, os.Stdout, a.Progress)
	} else {
		_, err = backup.WriteLibrary(ctx, os.Stdout, a.Manga, a.Categories)
	}
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("json: %v", err)
	}
	fmt.Println(string(b))
}

func printUsage() {
	fmt.Println("mangashelf [--db PATH] <command> [args] [flags]")
	fmt.Println("commands:")
	fmt.Println("  sources [--restricted]")
	fmt.Println("  search <source> <query> [--page N]")
	fmt.Println("  popular|latest <source> [--page N]")
	fmt.Println("  add <source> <url>")
	fmt.Println("  remove <manga-id>")
	fmt.Println("  list [--limit N] [--offset N]")
	fmt.Println("  status <manga-id> <reading-status>")
	fmt.Println("  sync [manga-id...]")
	fmt.Println("  queue|cancel|retry <chapter-id>")
	fmt.Println("  downloads [--status S,...]")
	fmt.Println("  download run")
	fmt.Println("  export [--history]")
}
