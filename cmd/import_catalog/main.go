package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"library-circulation/config"
	"library-circulation/library"
)

// Expected CSV header. Extra columns are ignored; publisher, year, copies and
// category may be empty.
var columns = []string{"title", "author", "isbn", "publisher", "year", "copies", "category"}

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:          "import_catalog <file.csv>",
		Short:        "Import book titles from a CSV file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := config.NewLogger(cfg.Log)

			manager, err := library.NewLibraryManager(cfg, library.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer manager.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			return importCatalog(cmd.Context(), manager, f)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to librarian.yaml")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func importCatalog(ctx context.Context, manager *library.LibraryManager, r io.Reader) error {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	index, err := headerIndex(header)
	if err != nil {
		return err
	}

	successCount := 0
	errorCount := 0
	categories := map[string]int64{}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Printf("Line %d: ERROR - %v\n", line, err)
			errorCount++
			continue
		}

		in, category, err := parseRecord(record, index)
		if err != nil {
			fmt.Printf("Line %d: ERROR - %v\n", line, err)
			errorCount++
			continue
		}

		fmt.Printf("Importing: %s by %s... ", in.Title, in.Author)

		if category != "" {
			id, ok := categories[category]
			if !ok {
				if id, err = manager.AddCategory(ctx, category); err != nil {
					fmt.Printf("ERROR - %v\n", err)
					errorCount++
					continue
				}
				categories[category] = id
			}
			in.CategoryID = id
		}

		bookID, err := manager.AddBook(ctx, in)
		if err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}

		fmt.Printf("SUCCESS (ID: %d)\n", bookID)
		successCount++
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", successCount)
	fmt.Printf("Errors: %d\n", errorCount)
	if errorCount > 0 {
		return fmt.Errorf("%d row(s) failed", errorCount)
	}
	return nil
}

func headerIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range columns[:3] {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	return index, nil
}

func parseRecord(record []string, index map[string]int) (library.BookInput, string, error) {
	field := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	in := library.BookInput{
		Title:       field("title"),
		Author:      field("author"),
		ISBN:        field("isbn"),
		Publisher:   field("publisher"),
		TotalCopies: 1,
	}
	if y := field("year"); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil {
			return in, "", fmt.Errorf("invalid year %q", y)
		}
		in.PublicationYear = year
	}
	if c := field("copies"); c != "" {
		copies, err := strconv.Atoi(c)
		if err != nil {
			return in, "", fmt.Errorf("invalid copies %q", c)
		}
		in.TotalCopies = copies
	}
	return in, field("category"), nil
}
