// Command seed-library registers a media library in the catalog so the
// uploader can target it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"mediadrop/internal/library"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		id          string
		name        string
		rootPath    string
		category    string
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON library catalog")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&id, "id", "", "Library ID (generated when omitted for JSON catalogs, required for Postgres)")
	flag.StringVar(&name, "name", "", "Display name for the library")
	flag.StringVar(&rootPath, "path", "", "Filesystem root of the library")
	flag.StringVar(&category, "category", "", "Library content category (photos, movies, tvshows, music, books)")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one catalog option may be provided")
	}
	if strings.TrimSpace(name) == "" {
		fatalf("--name is required")
	}
	if strings.TrimSpace(rootPath) == "" {
		fatalf("--path is required")
	}

	lib := library.Library{
		ID:   strings.TrimSpace(id),
		Name: strings.TrimSpace(name),
		Path: strings.TrimSpace(rootPath),
		Type: strings.ToLower(strings.TrimSpace(category)),
	}

	switch {
	case jsonPath != "":
		catalog, err := library.NewJSONCatalog(jsonPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if err != nil {
			fatalf("open catalog: %v", err)
		}
		registered, err := catalog.RegisterLibrary(lib)
		if err != nil {
			fatalf("register library: %v", err)
		}
		fmt.Printf("Library %s (%s) registered with ID %s.\n", registered.Name, registered.Path, registered.ID)
	default:
		if lib.ID == "" {
			fatalf("--id is required when seeding a Postgres catalog")
		}
		ctx := context.Background()
		catalog, err := library.NewPostgresCatalog(ctx, postgresDSN)
		if err != nil {
			fatalf("open catalog: %v", err)
		}
		defer catalog.Close()
		if err := catalog.EnsureSchema(ctx); err != nil {
			fatalf("ensure schema: %v", err)
		}
		if err := catalog.UpsertLibrary(ctx, lib); err != nil {
			fatalf("register library: %v", err)
		}
		fmt.Printf("Library %s (%s) registered with ID %s.\n", lib.Name, lib.Path, lib.ID)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
