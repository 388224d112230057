package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/rowshift/internal/analyzer"
	"github.com/vitebski/rowshift/internal/connector"
	"github.com/vitebski/rowshift/internal/generator"
	"github.com/vitebski/rowshift/internal/marker"
	"github.com/vitebski/rowshift/pkg/models"
	"gopkg.in/yaml.v3"
)

// Defaults applied to settings the config file leaves empty
const (
	DefaultTablesFile = "tables_to_datagen.json"
	DefaultMarkerPath = "last_updated.txt"
	DefaultOffsetDays = 60
	DefaultCutoff     = "2024-06-01"
	DefaultTimezone   = "Local"
)

// Config is the contents of config.json / config.yaml
type Config struct {
	Database   DatabaseConfig  `json:"database" yaml:"database"`
	TablesFile string          `json:"tablesFile" yaml:"tablesFile"`
	Marker     MarkerConfig    `json:"marker" yaml:"marker"`
	Generator  GeneratorConfig `json:"generator" yaml:"generator"`
	LogLevel   string          `json:"logLevel" yaml:"logLevel"`

	// directory of the config file, relative paths resolve against it
	dir string
}

// DatabaseConfig holds the connection settings of the target database
type DatabaseConfig struct {
	Driver   string `json:"driver" yaml:"driver"`
	DBName   string `json:"dbname" yaml:"dbname"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Host     string `json:"host" yaml:"host"`
	Port     Port   `json:"port" yaml:"port"`
	Schema   string `json:"schema" yaml:"schema"`
	SSLMode  string `json:"sslmode" yaml:"sslmode"`
}

// MarkerConfig selects where the last-updated marker is kept
type MarkerConfig struct {
	Kind string `json:"kind" yaml:"kind"`
	Path string `json:"path" yaml:"path"`
}

// GeneratorConfig tunes row generation
type GeneratorConfig struct {
	OffsetDays int    `json:"offsetDays" yaml:"offsetDays"`
	Cutoff     string `json:"cutoff" yaml:"cutoff"`
	IDStrategy string `json:"idStrategy" yaml:"idStrategy"`
	Timezone   string `json:"timezone" yaml:"timezone"`
}

// Port accepts both 5432 and "5432"
type Port string

// UnmarshalJSON implements json.Unmarshaler
func (p *Port) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = Port(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("port must be a string or a number, got %s", data)
	}
	*p = Port(n.String())
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (p *Port) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("port must be a scalar, line %d", value.Line)
	}
	*p = Port(value.Value)
	return nil
}

// LoadError reports a missing or malformed config or table list.
// It is fatal: no table is processed after one.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// decodeFile unmarshals a JSON or YAML file, chosen by extension
func decodeFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Unmarshal(data, v)
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, v)
	default:
		return fmt.Errorf("unsupported file extension %q, expected .json, .yaml or .yml", filepath.Ext(path))
	}
}

// Load reads a config file, applies environment overrides and defaults,
// and validates the result
func Load(path string) (*Config, error) {
	var cfg Config
	if err := decodeFile(path, &cfg); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	cfg.dir = filepath.Dir(path)
	cfg.ApplyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return &cfg, nil
}

// ApplyEnv overrides file settings with ROWSHIFT_* environment variables
func (c *Config) ApplyEnv() {
	overrides := []struct {
		key    string
		target *string
	}{
		{"ROWSHIFT_DB_DRIVER", &c.Database.Driver},
		{"ROWSHIFT_DB_HOST", &c.Database.Host},
		{"ROWSHIFT_DB_USER", &c.Database.User},
		{"ROWSHIFT_DB_PASSWORD", &c.Database.Password},
		{"ROWSHIFT_DB_NAME", &c.Database.DBName},
		{"ROWSHIFT_LOG_LEVEL", &c.LogLevel},
	}
	for _, o := range overrides {
		if value, ok := os.LookupEnv(o.key); ok && value != "" {
			*o.target = value
		}
	}
	if value, ok := os.LookupEnv("ROWSHIFT_DB_PORT"); ok && value != "" {
		c.Database.Port = Port(value)
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = connector.DriverPostgres
	}
	if c.Database.Port == "" {
		c.Database.Port = Port(connector.DefaultPort(c.Database.Driver))
	}
	if c.TablesFile == "" {
		c.TablesFile = DefaultTablesFile
	}
	if c.Marker.Kind == "" {
		c.Marker.Kind = marker.KindFile
	}
	if c.Marker.Kind == marker.KindFile && c.Marker.Path == "" {
		c.Marker.Path = DefaultMarkerPath
	}
	if c.Generator.OffsetDays == 0 {
		c.Generator.OffsetDays = DefaultOffsetDays
	}
	if c.Generator.Cutoff == "" {
		c.Generator.Cutoff = DefaultCutoff
	}
	if c.Generator.IDStrategy == "" {
		c.Generator.IDStrategy = generator.StrategyMaxQuery
	}
	if c.Generator.Timezone == "" {
		c.Generator.Timezone = DefaultTimezone
	}
}

// Validate checks the settings after defaults have been applied
func (c *Config) Validate() error {
	if _, err := connector.NewDialect(c.Database.Driver, c.Database.Schema); err != nil {
		return err
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database.dbname must be provided either in the config file or as ROWSHIFT_DB_NAME environment variable")
	}
	if c.Database.Schema != "" && !analyzer.IsValidIdentifier(c.Database.Schema) {
		return fmt.Errorf("invalid database.schema identifier: %s", c.Database.Schema)
	}
	if c.Generator.OffsetDays < 0 {
		return fmt.Errorf("generator.offsetDays must not be negative, got %d", c.Generator.OffsetDays)
	}
	if _, err := c.CutoffTime(); err != nil {
		return err
	}
	if _, err := generator.NewIDAllocator(c.Generator.IDStrategy); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := marker.New(c.Marker.Kind, c.Marker.Path, nil, time.UTC); err != nil {
		return err
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Resolve makes a path from the config file relative to its directory
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.dir, path)
}

// TablesPath returns the resolved path of the table list
func (c *Config) TablesPath() string {
	return c.Resolve(c.TablesFile)
}

// MarkerPath returns the resolved path of the marker file
func (c *Config) MarkerPath() string {
	return c.Resolve(c.Marker.Path)
}

// OffsetDays returns the generator offset in calendar days
func (c *Config) OffsetDays() int {
	return c.Generator.OffsetDays
}

// CutoffTime parses the legality cutoff. A bare date is midnight UTC.
func (c *Config) CutoffTime() (time.Time, error) {
	if t, err := time.Parse("2006-01-02", c.Generator.Cutoff); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, c.Generator.Cutoff)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid generator.cutoff %q: expected YYYY-MM-DD or RFC3339", c.Generator.Cutoff)
	}
	return t, nil
}

// Location returns the zone used for the current time and naive markers
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Generator.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid generator.timezone %q: %w", c.Generator.Timezone, err)
	}
	return loc, nil
}

// IDAllocator returns the allocator for the configured strategy
func (c *Config) IDAllocator() (generator.IDAllocator, error) {
	return generator.NewIDAllocator(c.Generator.IDStrategy)
}

// DatabaseParams converts the database section for the connector.
// A relative sqlite path resolves against the config directory.
func (c *Config) DatabaseParams() models.DatabaseParams {
	database := c.Database.DBName
	if c.Database.Driver == connector.DriverSQLite {
		database = c.Resolve(database)
	}
	return models.DatabaseParams{
		Driver:   c.Database.Driver,
		Host:     c.Database.Host,
		Port:     string(c.Database.Port),
		User:     c.Database.User,
		Password: c.Database.Password,
		Database: database,
		Schema:   c.Database.Schema,
		SSLMode:  c.Database.SSLMode,
	}
}

// LoadTables reads the table list, validates every entry and returns
// the tables in processing order
func LoadTables(path string) ([]models.TableSpec, error) {
	var tables []models.TableSpec
	if err := decodeFile(path, &tables); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if len(tables) == 0 {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("no tables listed")}
	}

	for i, table := range tables {
		if err := analyzer.ValidateTableSpec(table); err != nil {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("entry %d: %w", i, err)}
		}
	}

	ordered, err := analyzer.OrderTables(tables)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return ordered, nil
}

// SelectTables returns the tables named in names, keeping the order of
// tables. An empty names selects every table.
func SelectTables(tables []models.TableSpec, names []string) ([]models.TableSpec, error) {
	if len(names) == 0 {
		return tables, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	var selected []models.TableSpec
	for _, table := range tables {
		if wanted[table.Name] {
			selected = append(selected, table)
			delete(wanted, table.Name)
		}
	}
	for _, name := range names {
		if wanted[name] {
			return nil, fmt.Errorf("table %s is not in the table list", name)
		}
	}
	return selected, nil
}
