// Package config loads service settings from flags and LEAFSCAN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

// EnvVarPrefix is prepended to every flag name when reading the environment.
const EnvVarPrefix = "LEAFSCAN"

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds everything main needs to assemble the service.
type Config struct {
	Addr            string
	LogLevel        string
	DatabaseDriver  string
	DatabaseDSN     string
	RedisAddr       string
	ClassifierAddr  string
	ClassifierModel string
	LabelsPath      string
	UploadsDir      string
	ImageSize       int
	MaxUploadMB     int
	ShutdownTimeout time.Duration
}

// MaxUploadBytes converts the megabyte limit for the HTTP layer.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Load parses args, then LEAFSCAN_* variables for flags not set on the command line.
// On failure the returned error carries the flag usage text.
func Load(args []string) (*Config, error) {
	fs := ff.NewFlagSet("leafscan")
	var (
		addr            = fs.StringLong("addr", ":8080", "HTTP listen address")
		logLevel        = fs.StringLong("log-level", "info", "log level: debug, info, warn or error")
		dbDriver        = fs.StringLong("database-driver", DriverSQLite, "scan store: 'postgres' or 'sqlite'")
		dbDSN           = fs.StringLong("database-dsn", "leafscan.db", "postgres DSN or sqlite file path")
		redisAddr       = fs.StringLong("redis-addr", "", "redis address for the scan cache (empty disables it)")
		classifierAddr  = fs.StringLong("classifier-addr", "localhost:50051", "gRPC address of the model server")
		classifierModel = fs.StringLong("classifier-model", "leafscan", "model name sent with each prediction")
		labelsPath      = fs.StringLong("labels", "labels.txt", "class label file, one label per line")
		uploadsDir      = fs.StringLong("uploads-dir", "uploads", "directory for stored uploads")
		imageSize       = fs.IntLong("image-size", 224, "model input edge length in pixels")
		maxUploadMB     = fs.IntLong("max-upload-mb", 10, "largest accepted upload in megabytes")
		shutdownTimeout = fs.DurationLong("shutdown-timeout", 15*time.Second, "grace period for in-flight requests")
	)

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix(EnvVarPrefix)); err != nil {
		return nil, fmt.Errorf("%s\n%w", ffhelp.Flags(fs), err)
	}

	cfg := &Config{
		Addr:            *addr,
		LogLevel:        *logLevel,
		DatabaseDriver:  *dbDriver,
		DatabaseDSN:     *dbDSN,
		RedisAddr:       *redisAddr,
		ClassifierAddr:  *classifierAddr,
		ClassifierModel: *classifierModel,
		LabelsPath:      *labelsPath,
		UploadsDir:      *uploadsDir,
		ImageSize:       *imageSize,
		MaxUploadMB:     *maxUploadMB,
		ShutdownTimeout: *shutdownTimeout,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("database-driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DatabaseDriver))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database-dsn is required"))
	}
	if c.ClassifierAddr == "" {
		errs = append(errs, errors.New("classifier-addr is required"))
	}
	if c.ImageSize <= 0 {
		errs = append(errs, fmt.Errorf("image-size must be positive, got %d", c.ImageSize))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("max-upload-mb must be positive, got %d", c.MaxUploadMB))
	}
	return errors.Join(errs...)
}
