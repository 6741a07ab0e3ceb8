// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gormstore holds the document queries shared by the SQL metadata
// plugins
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blinklabs-io/attest/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

var ErrNotStarted = errors.New("metadata store not started")

// Config returns the gorm settings used by every SQL plugin
func Config(prepareStmt bool) *gorm.Config {
	return &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		PrepareStmt:            prepareStmt,
	}
}

// Init installs tracing and migrates the document schema
func Init(db *gorm.DB, logger *slog.Logger) error {
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return fmt.Errorf("install tracing plugin: %w", err)
	}
	for _, model := range models.MigrateModels {
		logger.Debug(fmt.Sprintf("creating table: %#v", model))
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

// Upsert inserts or updates the document for address, leaving created_at
// untouched on conflict
func Upsert(
	ctx context.Context,
	db *gorm.DB,
	address string,
	fields models.DocumentFields,
) (*models.Document, error) {
	if db == nil {
		return nil, ErrNotStarted
	}
	if err := fields.Validate(address); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	doc := &models.Document{
		CreatedAt: now,
		UpdatedAt: now,
	}
	fields.Apply(address, doc)
	result := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"updated_at",
			"certificate_number",
			"content_id",
			"filename",
			"digest",
			"operator",
			"note",
		}),
	}).Create(doc)
	if result.Error != nil {
		return nil, fmt.Errorf("upsert document: %w", result.Error)
	}
	return Get(ctx, db, address)
}

// Get loads the document for address
func Get(
	ctx context.Context,
	db *gorm.DB,
	address string,
) (*models.Document, error) {
	if db == nil {
		return nil, ErrNotStarted
	}
	var doc models.Document
	result := db.WithContext(ctx).Where("address = ?", address).First(&doc)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("get document: %w", result.Error)
	}
	return &doc, nil
}

// Close closes the underlying connection pool
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	return sqlDB.Close()
}

// DefaultMaxOpenConns is the pool size used when a plugin sets none
const DefaultMaxOpenConns = 100

// TunePool applies the connection pool limits used for network databases.
// A maxOpen of zero or less selects DefaultMaxOpenConns.
func TunePool(db *gorm.DB, maxOpen int) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenConns
	}
	sqlDB.SetMaxIdleConns(min(10, maxOpen))
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return nil
}
