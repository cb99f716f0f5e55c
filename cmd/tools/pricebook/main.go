package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/doubleoak/estimator-api/internal/obs"
	"github.com/doubleoak/estimator-api/internal/pricebook"
)

// Inspects a price workbook from the command line: lists the parsed rows
// or resolves a single SKU the same way the API would.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	path := flag.String("path", os.Getenv("PRICEBOOK_PATH"), "path to the price workbook (.xlsx)")
	sheet := flag.String("sheet", envOrDefault("PRICEBOOK_SHEET", "pricebook"), "worksheet name")
	sku := flag.String("sku", "", "resolve a single SKU instead of listing rows")
	unit := flag.String("unit", "", "unit qualifier for the SKU lookup")
	flag.Parse()

	if *path == "" {
		log.Fatal("workbook path is required (-path or PRICEBOOK_PATH)")
	}

	book := pricebook.New(*path, *sheet, obs.NewLogger("console", "warn"))
	if err := book.Reload(); err != nil {
		log.Fatalf("Failed to load workbook: %v", err)
	}

	if *sku != "" {
		res := book.Lookup(*sku, *unit)
		switch res.Status {
		case pricebook.StatusOK:
			fmt.Printf("%s\t%.2f\n", *sku, res.Price)
		case pricebook.StatusNotFound:
			log.Fatalf("SKU %q not found", *sku)
		default:
			log.Fatalf("Pricebook unavailable: %v", book.LastError())
		}
		return
	}

	rows := book.Rows()
	log.Printf("Loaded %d rows from %s (sheet %q)", len(rows), *path, *sheet)
	for _, row := range rows {
		fmt.Printf("%s\t%s\t%s\t%.2f\n", row.SKU, row.Unit, row.Description, row.Price)
	}
}

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
