package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"

	mysqldriver "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/arklim/db-access-manager/internal/infra/config"
)

// NewMariaDBConn opens the administrative connection to the managed store.
// No default schema is selected: the engine addresses databases explicitly
// in every statement it issues.
func NewMariaDBConn(ctx context.Context, cfg config.MariaDBSettings, log *zap.Logger) (*sql.DB, error) {
	driverCfg := mysqldriver.NewConfig()
	driverCfg.User = cfg.User
	driverCfg.Passwd = cfg.Password
	driverCfg.Net = "tcp"
	driverCfg.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	driverCfg.ParseTime = true
	driverCfg.MultiStatements = false
	if cfg.Timeout > 0 {
		driverCfg.Timeout = cfg.Timeout
		driverCfg.ReadTimeout = cfg.Timeout
		driverCfg.WriteTimeout = cfg.Timeout
	}

	connector, err := mysqldriver.NewConnector(driverCfg)
	if err != nil {
		return nil, fmt.Errorf("build mariadb connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mariadb: %w", err)
	}

	log.Info("connected to mariadb",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("user", cfg.User),
	)

	return db, nil
}
