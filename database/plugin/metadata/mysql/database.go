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

package mysql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/blinklabs-io/attest/database/models"
	"github.com/blinklabs-io/attest/database/plugin/metadata/internal/gormstore"
	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// errUnknownDatabase is the server error number for a missing schema
const errUnknownDatabase = 1049

// MetadataStoreMysql stores metadata documents in MySQL
type MetadataStoreMysql struct {
	promRegistry prometheus.Registerer
	db           *gorm.DB
	logger       *slog.Logger

	host     string
	port     uint
	user     string
	password string
	database string
	tls      string
	timeZone string
	dsn      string

	maxOpenConns int
}

func NewWithOptions(opts ...MysqlOptionFunc) *MetadataStoreMysql {
	db := &MetadataStoreMysql{}
	for _, opt := range opts {
		opt(db)
	}
	if db.host == "" {
		db.host = "localhost"
	}
	if db.port == 0 {
		db.port = 3306
	}
	if db.user == "" {
		db.user = "root"
	}
	if db.database == "" {
		db.database = "attest"
	}
	if db.timeZone == "" {
		db.timeZone = "UTC"
	}
	if db.logger == nil {
		db.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	db.logger = db.logger.With("component", "database", "store", "mysql")
	return db
}

// buildConfig returns the driver config from the DSN override or the
// discrete options
func (d *MetadataStoreMysql) buildConfig() (*mysql.Config, error) {
	if dsn := strings.TrimSpace(d.dsn); dsn != "" {
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		return cfg, nil
	}
	cfg := mysql.NewConfig()
	cfg.User = d.user
	cfg.Passwd = d.password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(d.host, strconv.FormatUint(uint64(d.port), 10))
	cfg.DBName = d.database
	cfg.ParseTime = true
	cfg.AllowNativePasswords = true
	if d.timeZone != "" {
		loc, err := time.LoadLocation(d.timeZone)
		if err != nil {
			loc = time.UTC
		}
		cfg.Loc = loc
	}
	if d.tls != "" {
		cfg.Params = map[string]string{"tls": d.tls}
	}
	return cfg, nil
}

// Start implements the plugin.Plugin interface
func (d *MetadataStoreMysql) Start() error {
	cfg, err := d.buildConfig()
	if err != nil {
		return err
	}
	metadataDb, err := gorm.Open(
		gormmysql.Open(cfg.FormatDSN()),
		gormstore.Config(true),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if !errors.As(err, &mysqlErr) || mysqlErr.Number != errUnknownDatabase {
			return err
		}
		if createErr := d.ensureDatabaseExists(cfg); createErr != nil {
			return fmt.Errorf("create database %q: %w", cfg.DBName, createErr)
		}
		metadataDb, err = gorm.Open(
			gormmysql.Open(cfg.FormatDSN()),
			gormstore.Config(true),
		)
		if err != nil {
			return err
		}
	}
	d.logger.Info(
		"connected to mysql metadata store",
		"addr", cfg.Addr,
		"database", cfg.DBName,
	)
	if err := gormstore.TunePool(metadataDb, d.maxOpenConns); err != nil {
		return err
	}
	d.db = metadataDb
	return gormstore.Init(d.db, d.logger)
}

func (d *MetadataStoreMysql) ensureDatabaseExists(cfg *mysql.Config) error {
	if cfg.DBName == "" {
		return errors.New("no database name configured")
	}
	adminCfg := cfg.Clone()
	adminCfg.DBName = ""
	adminDb, err := gorm.Open(
		gormmysql.Open(adminCfg.FormatDSN()),
		gormstore.Config(false),
	)
	if err != nil {
		return err
	}
	defer func() { _ = gormstore.Close(adminDb) }()
	return adminDb.Exec(
		fmt.Sprintf(
			"CREATE DATABASE IF NOT EXISTS `%s`",
			strings.ReplaceAll(cfg.DBName, "`", "``"),
		),
	).Error
}

// Stop implements the plugin.Plugin interface
func (d *MetadataStoreMysql) Stop() error {
	return d.Close()
}

func (d *MetadataStoreMysql) Close() error {
	err := gormstore.Close(d.db)
	d.db = nil
	return err
}

func (d *MetadataStoreMysql) DB() *gorm.DB {
	return d.db
}

func (d *MetadataStoreMysql) UpsertDocument(
	ctx context.Context,
	address string,
	fields models.DocumentFields,
) (*models.Document, error) {
	return gormstore.Upsert(ctx, d.db, address, fields)
}

func (d *MetadataStoreMysql) GetDocument(
	ctx context.Context,
	address string,
) (*models.Document, error) {
	return gormstore.Get(ctx, d.db, address)
}
