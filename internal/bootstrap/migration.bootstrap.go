package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/krobus00/crypto-catalog-service/internal/config"
	"github.com/krobus00/crypto-catalog-service/internal/util"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const migrationRootDir = "migration/postgresql/"

func StartMigrate(cmd *cobra.Command, args []string) {
	databaseName, _ := cmd.Flags().GetString("databaseName")
	actionType, _ := cmd.Flags().GetString("action")
	migrationName, _ := cmd.Flags().GetString("name")
	version, _ := cmd.Flags().GetInt64("version")

	dbConfig, ok := config.Env.Database[databaseName]
	if !ok {
		util.ContinueOrFatal(fmt.Errorf("database %q is not configured", databaseName))
	}

	migrationDir := migrationRootDir + databaseName

	db, err := sql.Open("postgres", dbConfig.DSN)
	util.ContinueOrFatal(err)
	defer db.Close()

	err = goose.SetDialect("postgres")
	util.ContinueOrFatal(err)

	logrus.WithFields(logrus.Fields{
		"database": databaseName,
		"action":   actionType,
		"dir":      migrationDir,
	}).Info("running migration")

	err = runMigration(db, migrationDir, actionType, migrationName, version)
	util.ContinueOrFatal(err)
}

func runMigration(db *sql.DB, migrationDir string, actionType string, migrationName string, version int64) error {
	switch actionType {
	case "create":
		if migrationName == "" {
			return errors.New("migration name is required")
		}
		return goose.Create(db, migrationDir, migrationName, "sql")
	case "up":
		return goose.Up(db, migrationDir, goose.WithAllowMissing())
	case "up-by-one":
		return goose.UpByOne(db, migrationDir, goose.WithAllowMissing())
	case "up-to":
		return goose.UpTo(db, migrationDir, version, goose.WithAllowMissing())
	case "down":
		return goose.Down(db, migrationDir, goose.WithAllowMissing())
	case "down-to":
		return goose.DownTo(db, migrationDir, version, goose.WithAllowMissing())
	case "status":
		return goose.Status(db, migrationDir)
	case "reset":
		if err := goose.Reset(db, migrationDir, goose.WithAllowMissing()); err != nil {
			return err
		}
		return goose.Up(db, migrationDir, goose.WithAllowMissing())
	default:
		return fmt.Errorf("invalid migration action: %s", actionType)
	}
}
