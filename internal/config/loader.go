package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads configuration from environment variables after applying any
// env files. Variables already set in the environment win over file values.
// With no files given, a .env in the working directory is used if present.
// Returns an error if required values are missing or validation fails.
func Load(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("read env file: %w", err)
	}
	return nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		// Get tags
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Shopify validation
	if c.Shopify.ShopDomain == "" {
		errs = append(errs, "SHOPIFY_SHOP_DOMAIN is required")
	}
	if c.Shopify.AccessToken == "" {
		errs = append(errs, "SHOPIFY_ACCESS_TOKEN is required")
	}
	if c.Shopify.PageSize <= 0 || c.Shopify.PageSize > 250 {
		errs = append(errs, fmt.Sprintf("SHOPIFY_PAGE_SIZE (%d) must be 1-250", c.Shopify.PageSize))
	}
	if c.Shopify.RequestsPerSecond < 0 {
		errs = append(errs, "SHOPIFY_REQUESTS_PER_SECOND must be non-negative")
	}
	if c.Reconcile.SyncStock && !c.Reconcile.DryRun && c.Shopify.LocationID == "" {
		errs = append(errs, "SHOPIFY_LOCATION_ID is required when RECONCILE_SYNC_STOCK is true")
	}

	// Reports validation
	if c.Reports.ItemPath == "" {
		errs = append(errs, "REPORT_ITEM_PATH is required")
	}
	if c.Reports.PreviousPostedPath != "" && c.Reports.PreviousItemPath == "" {
		errs = append(errs, "REPORT_PREVIOUS_POSTED_PATH needs REPORT_PREVIOUS_ITEM_PATH")
	}
	cols := map[string]int{
		"REPORT_ITEM_SKU_COLUMN":         c.Reports.ItemSKUColumn,
		"REPORT_ITEM_DESCRIPTION_COLUMN": c.Reports.ItemDescriptionColumn,
		"REPORT_ITEM_UPC_COLUMN":         c.Reports.ItemUPCColumn,
		"REPORT_ITEM_LIST_PRICE_COLUMN":  c.Reports.ItemListPriceColumn,
		"REPORT_ITEM_COST_COLUMN":        c.Reports.ItemCostColumn,
		"REPORT_POSTED_SKU_COLUMN":       c.Reports.PostedSKUColumn,
		"REPORT_POSTED_STOCK_COLUMN":     c.Reports.PostedStockColumn,
	}
	for _, name := range sortedKeys(cols) {
		if cols[name] < 0 {
			errs = append(errs, name+" must be non-negative")
		}
	}

	// Reconcile validation
	if c.Reconcile.Workers <= 0 {
		errs = append(errs, "RECONCILE_WORKERS must be positive")
	}
	if c.Reconcile.Timeout <= 0 {
		errs = append(errs, "RECONCILE_TIMEOUT must be positive")
	}
	if c.Reconcile.MaxConcurrent <= 0 {
		errs = append(errs, "RECONCILE_MAX_CONCURRENT must be positive")
	}
	if c.Reconcile.MaxWaitTime < 0 {
		errs = append(errs, "RECONCILE_MAX_WAIT_TIME must be non-negative")
	}
	if c.Reconcile.HistorySize <= 0 {
		errs = append(errs, "RECONCILE_HISTORY_SIZE must be positive")
	}

	// Output validation
	if c.Output.WriteLogs && c.Output.LogDir == "" {
		errs = append(errs, "OUTPUT_LOG_DIR is required when OUTPUT_WRITE_LOGS is true")
	}

	// Database validation
	if c.Database.URL != "" {
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.AuditBatchSize <= 0 {
			errs = append(errs, "DB_AUDIT_BATCH_SIZE must be positive")
		}
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Schedule.Interval < 0 {
		errs = append(errs, "SCHEDULE_INTERVAL must be non-negative")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns a safe string representation of the config for logging.
// Tokens, keys and database URLs are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Shopify: {ShopDomain: %q, AccessToken: [MASKED], APIVersion: %q, LocationID: %q}, ",
		c.Shopify.ShopDomain, c.Shopify.APIVersion, c.Shopify.LocationID)
	fmt.Fprintf(&b, "Reports: {ItemPath: %q, PostedPath: %q, Encoding: %q}, ",
		c.Reports.ItemPath, c.Reports.PostedPath, c.Reports.Encoding)
	fmt.Fprintf(&b, "Reconcile: {DryRun: %v, Workers: %d, SyncStock: %v}, ",
		c.Reconcile.DryRun, c.Reconcile.Workers, c.Reconcile.SyncStock)
	if c.Database.URL != "" {
		b.WriteString("Database: {URL: [MASKED]}, ")
	}
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
