package main

import (
	stderrors "errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/sawdustandcoffee/checkoutapi/internal/config"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository/postgres"
)

func main() {
	_ = godotenv.Load()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	dbCfg, err := config.LoadDatabase()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := postgres.NewConnection(dbCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}

	m, err := postgres.NewMigrator(db)
	if err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "Failed to prepare migrations: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	switch command {
	case "up":
		err = m.Up()
	case "down":
		// one step at a time so a typo never drops the whole schema
		steps := 1
		if len(os.Args) > 2 {
			if steps, err = strconv.Atoi(os.Args[2]); err != nil || steps < 1 {
				fmt.Fprintf(os.Stderr, "Invalid step count: %s\n", os.Args[2])
				os.Exit(1)
			}
		}
		err = m.Steps(-steps)
	case "version":
		version, dirty, verr := m.Version()
		if stderrors.Is(verr, migrate.ErrNilVersion) {
			fmt.Println("No migrations applied")
			return
		}
		if verr != nil {
			fmt.Fprintf(os.Stderr, "Failed to read version: %v\n", verr)
			os.Exit(1)
		}
		fmt.Printf("Version: %d (dirty: %t)\n", version, dirty)
		return
	default:
		fmt.Println("Usage: go run cmd/migrate/main.go [up | down [steps] | version]")
		os.Exit(1)
	}

	if stderrors.Is(err, migrate.ErrNoChange) {
		fmt.Println("No migrations to apply")
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("Migration %s completed successfully!\n", command)
}
