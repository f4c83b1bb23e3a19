package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	MariaDB   MariaDBSettings   `mapstructure:"mariadb"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Sweeper   SweeperSettings   `mapstructure:"sweeper"`
	Retry     RetrySettings     `mapstructure:"retry"`
	Dispatch  DispatchSettings  `mapstructure:"dispatch"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// PostgresSettings configures the record store connection.
type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// MariaDBSettings configures the administrative connection to the managed
// store. The user must hold GRANT OPTION, CREATE USER, and EVENT privileges.
type MariaDBSettings struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// KafkaSettings configures the outcome notifier producer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// SweeperSettings configures the expiry sweep and scheduler verification.
type SweeperSettings struct {
	SweepInterval          time.Duration `mapstructure:"sweep_interval"`
	SchedulerCheckInterval time.Duration `mapstructure:"scheduler_check_interval"`
}

// RetrySettings bounds retries of managed store operations.
type RetrySettings struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// DispatchSettings configures the in-process event dispatcher.
type DispatchSettings struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type TelemetrySettings struct {
	MetricsPort int `mapstructure:"metrics_port"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("DBACCESS")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"mariadb.host",
		"mariadb.port",
		"mariadb.user",
		"mariadb.password",
		"mariadb.max_open_conns",
		"mariadb.max_idle_conns",
		"mariadb.conn_max_lifetime",
		"mariadb.timeout",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"sweeper.sweep_interval",
		"sweeper.scheduler_check_interval",
		"retry.max_attempts",
		"retry.base_delay",
		"retry.max_delay",
		"dispatch.workers",
		"dispatch.queue_size",
		"telemetry.metrics_port",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "db-access-manager")
	v.SetDefault("app.env", "development")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "dbaccess")
	v.SetDefault("postgres.password", "dbaccess_password")
	v.SetDefault("postgres.database", "dbaccess")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("mariadb.host", "localhost")
	v.SetDefault("mariadb.port", 3306)
	v.SetDefault("mariadb.user", "root")
	v.SetDefault("mariadb.password", "")
	v.SetDefault("mariadb.max_open_conns", 5)
	v.SetDefault("mariadb.max_idle_conns", 2)
	v.SetDefault("mariadb.conn_max_lifetime", "30m")
	v.SetDefault("mariadb.timeout", "10s")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "dbaccess")
	v.SetDefault("kafka.async", true)

	v.SetDefault("sweeper.sweep_interval", "5m")
	v.SetDefault("sweeper.scheduler_check_interval", "24h")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "5s")

	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_size", 64)

	v.SetDefault("telemetry.metrics_port", 9090)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "DBACCESS_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
