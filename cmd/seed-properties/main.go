// seed-properties registers properties for a business so that regular
// (non-superuser) imports referencing them pass the approval gate.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  go run ./cmd/seed-properties -business <id> "Seaside Villa" "Mountain Cabin"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hostfolio/propops_backend/config"
	"github.com/hostfolio/propops_backend/models"
	"github.com/hostfolio/propops_backend/utils"
)

func main() {
	businessId := flag.String("business", "", "business id to register the properties under")
	actor := flag.String("actor", "seed-properties", "actor name recorded on created records")
	flag.Parse()

	if strings.TrimSpace(*businessId) == "" || flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: seed-properties -business <id> <property name> [<property name> ...]")
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

	for _, name := range utils.UniqueSlice(flag.Args()) {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		existing, err := models.FindPropertyByLabel(ctx, name)
		if err == nil {
			fmt.Printf("property %q already registered (id=%d)\n", existing.Name, existing.ID)
			continue
		}
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			fmt.Fprintf(os.Stderr, "lookup %q: %v\n", name, err)
			os.Exit(1)
		}
		property, err := models.CreateProperty(ctx, &models.NewProperty{Name: name})
		if err != nil {
			fmt.Fprintf(os.Stderr, "create %q: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("created property %q (id=%d)\n", property.Name, property.ID)
	}
}
