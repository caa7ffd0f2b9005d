package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"mangashelf/internal/backup"
	"mangashelf/internal/library"
	"mangashelf/internal/manga"
	"mangashelf/internal/progress"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/database"
	"mangashelf/pkg/utils"
)

func main() {
	var (
		libraryOut = pflag.String("library", "data/library.csv", "output CSV path for the library")
		historyOut = pflag.String("history", "data/history.csv", "output CSV path for reading history")
	)
	pflag.Parse()

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	db, err := database.OpenMigrated(database.Config{Path: cfg.DBPath})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mangaRepo := manga.NewRepo(db, clock.Real())
	categories := library.NewRepo(db)
	history := progress.NewRepo(db)

	n, err := writeFile(*libraryOut, func(f *os.File) (int, error) {
		return backup.WriteLibrary(ctx, f, mangaRepo, categories)
	})
	if err != nil {
		log.Fatalf("export library failed: %v", err)
	}
	h, err := writeFile(*historyOut, func(f *os.File) (int, error) {
		return backup.WriteHistory(ctx, f, history)
	})
	if err != nil {
		log.Fatalf("export history failed: %v", err)
	}

	log.Printf("exported %d titles to %s and %d history entries to %s", n, *libraryOut, h, *historyOut)
}

func writeFile(path string, write func(*os.File) (int, error)) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := write(f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}
