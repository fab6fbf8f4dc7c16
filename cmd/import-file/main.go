// import-file runs one reconciliation pass over a local cleaning-schedule
// .xlsx, outside the HTTP surface. Useful for backfills and for re-running a
// schedule against a staging database.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  go run ./cmd/import-file -business <business-id> -actor "Ops Backfill" -file schedule.xlsx
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/hostfolio/propops_backend/config"
	"github.com/hostfolio/propops_backend/models"
	"github.com/hostfolio/propops_backend/utils"
	"github.com/hostfolio/propops_backend/workflow"
)

func main() {
	businessId := flag.String("business", "", "business id to import into")
	actor := flag.String("actor", "Import CLI", "actor name written on audit entries")
	filePath := flag.String("file", "", "path to the .xlsx schedule")
	superuser := flag.Bool("superuser", false, "allow creating unknown properties")
	flag.Parse()

	if *businessId == "" || *filePath == "" {
		fmt.Fprintln(os.Stderr, "both -business and -file are required")
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, *businessId)
	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, *actor)
	ctx = utils.SetIsSuperuserInContext(ctx, *superuser)

	f, err := os.Open(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *filePath, err)
		os.Exit(1)
	}
	defer f.Close()

	rows, err := workflow.ReadScheduleRows(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read schedule: %v\n", err)
		os.Exit(1)
	}

	summary, err := workflow.RunBookingImport(ctx, &workflow.ImportInput{
		FileName: *filePath,
		Rows:     rows,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))
}
