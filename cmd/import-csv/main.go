package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"mangashelf/internal/backup"
	"mangashelf/internal/library"
	"mangashelf/internal/manga"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/database"
	"mangashelf/pkg/utils"
)

func main() {
	libraryIn := pflag.String("library", "data/library.csv", "input CSV path for the library")
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

	f, err := os.Open(*libraryIn)
	if err != nil {
		log.Fatalf("open %s: %v", *libraryIn, err)
	}
	defer f.Close()

	n, err := backup.ReadLibrary(ctx, f, manga.NewRepo(db, clock.Real()), library.NewRepo(db))
	if err != nil {
		log.Fatalf("import library failed after %d titles: %v", n, err)
	}
	log.Printf("imported %d titles from %s; run a sync to fetch their chapters", n, *libraryIn)
}
