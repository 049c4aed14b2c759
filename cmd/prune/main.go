package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"servalliance/internal/config"
	"servalliance/internal/repository/sqlite"
	"servalliance/internal/services/storage"
)

const gigabyte = 1 << 30

func main() {
	cfg := config.Load()

	clipsDir := flag.String("clips", cfg.ClipDirectory, "Directory containing clips")
	dbPath := flag.String("db", cfg.DatabasePath, "Database path")
	maxGB := flag.Int64("max-gb", cfg.MaxClipDirectorySize, "Maximum clip directory size in GB")
	dryRun := flag.Bool("dry-run", false, "Only list the clips that would be deleted")
	flag.Parse()

	clips, err := storage.ListClips(*clipsDir)
	if err != nil {
		log.Fatalf("Failed to list clips: %v", err)
	}

	var total int64
	for _, c := range clips {
		total += c.Size
	}
	fmt.Printf("📁 %s: %d clips, %.2f GB (limit %d GB)\n", *clipsDir, len(clips), float64(total)/gigabyte, *maxGB)

	remove := storage.PlanPrune(clips, *maxGB*gigabyte)
	if len(remove) == 0 {
		fmt.Println("Nothing to prune")
		return
	}

	if *dryRun {
		for _, c := range remove {
			fmt.Printf("   would delete %s (%s, camera %s)\n", c.Path, c.At.Format("2006-01-02 15:04:05"), c.CameraID)
		}
		return
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	alerts := sqlite.NewAlertRepository(db)

	ctx := context.Background()
	removed, err := storage.RemoveClips(remove, func(c storage.StoredClip) error {
		_, err := alerts.ClearClip(ctx, c.Path)
		return err
	})

	fmt.Printf("✅ Deleted %d clips\n", removed)
	if err != nil {
		log.Printf("⚠️  Some clips could not be pruned: %v", err)
	}
}
