// Package config loads pricesync settings from environment variables, with
// an optional env file, and validates them on startup so a misconfigured run
// fails before any report is read.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Shopify   ShopifyConfig
	Reports   ReportsConfig
	Reconcile ReconcileConfig
	Output    OutputConfig
	Database  DatabaseConfig
	Schedule  ScheduleConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings for serve mode.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including an in-flight run.
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for API requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// ShopifyConfig holds storefront API settings.
type ShopifyConfig struct {
	// ShopDomain is the shop's myshopify.com host.
	ShopDomain string `env:"SHOPIFY_SHOP_DOMAIN" envAlt:"SHOPIFY_BUSINESS_URL" required:"true"`

	// AccessToken is the Admin API access token.
	AccessToken string `env:"SHOPIFY_ACCESS_TOKEN" required:"true"`

	APIVersion string `env:"SHOPIFY_API_VERSION" default:"2024-10"`

	// LocationID is the inventory location stock updates are written to.
	// Required when stock sync is on.
	LocationID string `env:"SHOPIFY_LOCATION_ID"`

	PageSize          int           `env:"SHOPIFY_PAGE_SIZE" default:"100"`
	RequestsPerSecond float64       `env:"SHOPIFY_REQUESTS_PER_SECOND" default:"2"`
	Timeout           time.Duration `env:"SHOPIFY_TIMEOUT" default:"30s"`
}

// ReportsConfig locates and describes the accounting exports.
type ReportsConfig struct {
	ItemPath   string `env:"REPORT_ITEM_PATH" default:"item.data"`
	PostedPath string `env:"REPORT_POSTED_PATH" default:"item_posted.data"`

	// PreviousItemPath enables changed-rows mode when set.
	PreviousItemPath   string `env:"REPORT_PREVIOUS_ITEM_PATH"`
	PreviousPostedPath string `env:"REPORT_PREVIOUS_POSTED_PATH"`

	// Encoding is a WHATWG label for delimited exports (default: utf-8)
	Encoding string `env:"REPORT_ENCODING" default:"utf-8"`

	// Sheet picks the worksheet of .xlsx exports; empty means the first.
	Sheet string `env:"REPORT_SHEET"`

	ItemSKUColumn         int `env:"REPORT_ITEM_SKU_COLUMN" default:"0"`
	ItemDescriptionColumn int `env:"REPORT_ITEM_DESCRIPTION_COLUMN" default:"1"`
	ItemUPCColumn         int `env:"REPORT_ITEM_UPC_COLUMN" default:"2"`
	ItemListPriceColumn   int `env:"REPORT_ITEM_LIST_PRICE_COLUMN" default:"6"`
	ItemCostColumn        int `env:"REPORT_ITEM_COST_COLUMN" default:"8"`
	PostedSKUColumn       int `env:"REPORT_POSTED_SKU_COLUMN" default:"0"`
	PostedStockColumn     int `env:"REPORT_POSTED_STOCK_COLUMN" default:"19"`
}

// ReconcileConfig controls the reconciliation pass.
type ReconcileConfig struct {
	// DryRun classifies and logs without sending updates (default: false)
	DryRun bool `env:"RECONCILE_DRY_RUN" default:"false"`

	// Workers bounds concurrent listing reconciliation (default: 4)
	Workers int `env:"RECONCILE_WORKERS" default:"4"`

	// SyncStock pushes local stock to the storefront (default: true)
	SyncStock bool `env:"RECONCILE_SYNC_STOCK" default:"true"`

	// Timeout bounds one full run (default: 30m)
	Timeout time.Duration `env:"RECONCILE_TIMEOUT" default:"30m"`

	// MaxConcurrent is how many runs may overlap (default: 1)
	MaxConcurrent int `env:"RECONCILE_MAX_CONCURRENT" default:"1"`

	// MaxWaitTime is how long a triggered run waits for a slot (default: 0s)
	MaxWaitTime time.Duration `env:"RECONCILE_MAX_WAIT_TIME" default:"0s"`

	// HistorySize is how many finished runs are kept in memory (default: 50)
	HistorySize int `env:"RECONCILE_HISTORY_SIZE" default:"50"`
}

// OutputConfig controls where outcome lines are written.
type OutputConfig struct {
	// WriteLogs writes one file per outcome kind instead of stdout.
	WriteLogs bool `env:"OUTPUT_WRITE_LOGS" default:"false"`

	// LogDir is where outcome files go (default: logs)
	LogDir string `env:"OUTPUT_LOG_DIR" default:"logs"`
}

// DatabaseConfig holds the optional audit database. Leaving URL empty turns
// the outcome audit table off.
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"4"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"0"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AuditBatchSize is rows per COPY into the audit table (default: 500)
	AuditBatchSize int `env:"DB_AUDIT_BATCH_SIZE" default:"500"`
}

// ScheduleConfig holds periodic run settings for serve mode.
type ScheduleConfig struct {
	// Interval between scheduled runs; 0 disables the scheduler.
	Interval time.Duration `env:"SCHEDULE_INTERVAL" default:"0s"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key auth on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys.
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
