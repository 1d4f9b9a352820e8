package model

import (
	"strings"

	"github.com/Laisky/errors/v2"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/polygate/polygate/common/config"
)

// DB is the process-wide gorm handle. Initialised once by InitDB.
var DB *gorm.DB

// InitDB opens the backing store selected by SQL_DSN and migrates the
// schema. An empty DSN selects SQLite at config.SQLitePath.
func InitDB() error {
	var dialector gorm.Dialector
	switch {
	case config.SQLDSN == "":
		dialector = sqlite.Open(config.SQLitePath)
	case strings.HasPrefix(config.SQLDSN, "postgres://"), strings.HasPrefix(config.SQLDSN, "postgresql://"):
		dialector = postgres.Open(config.SQLDSN)
	default:
		dialector = mysql.Open(config.SQLDSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	DB = db

	if err := migrate(db); err != nil {
		return errors.Wrap(err, "migrate database")
	}
	return nil
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Credential{},
		&ErrorCredential{},
		&APIKey{},
		&APILog{},
	)
}
