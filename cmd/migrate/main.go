package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tokintel/tokintel/internal/analytics"
)

func main() {
	var (
		dbPath = flag.String("db", "./tokintel.db", "Path to the analytics database")
		status = flag.Bool("status", false, "Show schema version only")
	)
	flag.Parse()

	if env := os.Getenv("ANALYTICS_DB_PATH"); env != "" {
		*dbPath = env
	}

	// Open applies pending migrations.
	store, err := analytics.Open(*dbPath)
	if err != nil {
		log.Fatal("Failed to open analytics store: ", err)
	}
	defer store.Close()

	version, err := store.SchemaVersion()
	if err != nil {
		log.Fatal("Failed to read schema version: ", err)
	}

	if *status {
		fmt.Printf("Schema version: %d\n", version)
		return
	}

	fmt.Printf("Database %s migrated to schema version %d\n", *dbPath, version)
}
