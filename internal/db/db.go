// Package db opens the gateway database and keeps the schema current.
package db

import (
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/saharasprout/smsgateway/internal/model"
)

// Open opens the sqlite database at dsn and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	err = gdb.AutoMigrate(
		&model.Device{},
		&model.AuthorizedNumber{},
		&model.InboundMessage{},
		&model.DeviceCommand{},
		&model.SMSResponse{},
		&model.OutboundMessage{},
	)
	if err != nil {
		return nil, errors.Wrap(err, "migrate database")
	}
	return gdb, nil
}
