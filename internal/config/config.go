package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/jetstream"
	"gitlab.com/timkado/api/wa-group-etl/internal/ledger"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/sales"
	"gitlab.com/timkado/api/wa-group-etl/internal/sheets"
	"gitlab.com/timkado/api/wa-group-etl/internal/source"
	"gitlab.com/timkado/api/wa-group-etl/internal/storage"
	"gitlab.com/timkado/api/wa-group-etl/internal/validator"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
	} `mapstructure:"server"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Groups   GroupsConfig   `mapstructure:"groups"`
	Keywords struct {
		Practice []string `mapstructure:"practice" validate:"min=1"`
		Message  []string `mapstructure:"message"`
	} `mapstructure:"keywords"`
	Lessons LessonsConfig `mapstructure:"lessons"`
	Sales struct {
		Identifier string       `mapstructure:"identifier" validate:"required"`
		Labels     sales.Labels `mapstructure:"labels"`
	} `mapstructure:"sales"`
	Database DatabaseConfig       `mapstructure:"database"`
	Sheets   SheetsConfig         `mapstructure:"sheets"`
	Browser  source.BrowserConfig `mapstructure:"browser"`
	NATS     NATSConfig           `mapstructure:"nats"`
}

// ScheduleConfig controls the outer run cadence.
type ScheduleConfig struct {
	Interval   time.Duration `mapstructure:"interval" validate:"gt=0"`
	RunOnStart bool          `mapstructure:"runOnStart"`
	// RunTimeout bounds one invocation of both pipelines.
	RunTimeout time.Duration `mapstructure:"runTimeout" validate:"gt=0"`
}

// LessonsConfig controls lesson hints and how lesson labels are ordered.
type LessonsConfig struct {
	// HintPattern must have a capture group; empty disables hints.
	HintPattern string `mapstructure:"hintPattern"`
	// Sequence lists lesson labels from first to last. Empty orders labels
	// numerically.
	Sequence []string `mapstructure:"sequence" validate:"unique,dive,required"`
}

// LessonOrder returns the ordering the reconciler advances lessons by.
func (c *Config) LessonOrder() ledger.LessonOrder {
	if len(c.Lessons.Sequence) == 0 {
		return ledger.NumericOrder
	}
	return ledger.SequenceOrder(c.Lessons.Sequence)
}

// GroupsConfig names the monitored chat groups.
type GroupsConfig struct {
	Students     string `mapstructure:"students" validate:"required"`
	Sales        string `mapstructure:"sales" validate:"required"`
	MessageCount int    `mapstructure:"messageCount" validate:"gte=1"`
}

// DatabaseConfig selects the document store.
type DatabaseConfig struct {
	Driver              string            `mapstructure:"driver" validate:"oneof=mongo postgres memory"`
	MongoURI            string            `mapstructure:"mongoURI" validate:"required_if=Driver mongo"`
	PostgresDSN         string            `mapstructure:"postgresDSN" validate:"required_if=Driver postgres"`
	PostgresAutoMigrate bool              `mapstructure:"postgresAutoMigrate"`
	Students            storage.Namespace `mapstructure:"students"`
	Sales               storage.Namespace `mapstructure:"sales"`
	Logger              storage.Namespace `mapstructure:"logger"`
}

// SheetsConfig addresses the roster and lead spreadsheets.
type SheetsConfig struct {
	CredentialsFile string        `mapstructure:"credentialsFile"`
	Students        sheets.Target `mapstructure:"students"`
	Sales           sheets.Target `mapstructure:"sales"`
}

// NATSConfig enables event publication.
type NATSConfig struct {
	Enabled   bool                      `mapstructure:"enabled"`
	URL       string                    `mapstructure:"url" validate:"required_if=Enabled true"`
	Publisher jetstream.PublisherConfig `mapstructure:",squash"`
}

// StorageOptions converts the database section for storage.Open.
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		Driver:      c.Database.Driver,
		MongoURI:    c.Database.MongoURI,
		PostgresDSN: c.Database.PostgresDSN,
		AutoMigrate: c.Database.PostgresAutoMigrate,
		Layout: storage.Layout{
			Students:   c.Database.Students,
			Watermarks: c.Database.Sales,
			RunLogs:    c.Database.Logger,
		},
	}
}

// SheetsClientConfig converts the sheets section for sheets.NewClient.
func (c *Config) SheetsClientConfig() sheets.Config {
	return sheets.Config{
		CredentialsFile: c.Sheets.CredentialsFile,
		Students:        c.Sheets.Students,
		Sales:           c.Sheets.Sales,
	}
}

// Validate checks the decoded configuration.
func (c *Config) Validate() error {
	if err := validator.Validate(c); err != nil {
		return apperrors.NewFatal(err, "invalid configuration")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("schedule.interval", 10*time.Minute)
	v.SetDefault("schedule.runOnStart", true)
	v.SetDefault("schedule.runTimeout", 5*time.Minute)

	v.SetDefault("groups.messageCount", 20)

	v.SetDefault("sales.identifier", model.DefaultSalesIdentifier)
	v.SetDefault("sales.labels.source", sales.DefaultLabels.Source)
	v.SetDefault("sales.labels.name", sales.DefaultLabels.Name)
	v.SetDefault("sales.labels.phone", sales.DefaultLabels.Phone)
	v.SetDefault("sales.labels.email", sales.DefaultLabels.Email)

	v.SetDefault("database.driver", storage.DriverMongo)
	v.SetDefault("database.postgresAutoMigrate", true)
	v.SetDefault("database.students.db", storage.DefaultLayout.Students.DB)
	v.SetDefault("database.students.collection", storage.DefaultLayout.Students.Collection)
	v.SetDefault("database.sales.db", storage.DefaultLayout.Watermarks.DB)
	v.SetDefault("database.sales.collection", storage.DefaultLayout.Watermarks.Collection)
	v.SetDefault("database.logger.db", storage.DefaultLayout.RunLogs.DB)
	v.SetDefault("database.logger.collection", storage.DefaultLayout.RunLogs.Collection)

	v.SetDefault("sheets.students.worksheet", sheets.DefaultWorksheet)
	v.SetDefault("sheets.sales.worksheet", sheets.DefaultWorksheet)

	v.SetDefault("browser.url", "https://web.whatsapp.com")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.navigationTimeout", 30*time.Second)
	v.SetDefault("browser.loadAttempts", 5)
	v.SetDefault("browser.loadWait", 3*time.Second)
	v.SetDefault("browser.searchTimeout", 5*time.Second)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.stream", "wa_group_etl")
	v.SetDefault("nats.runLogSubject", "v1.etl.run_log")
	v.SetDefault("nats.leadSubject", "v1.etl.lead")
	v.SetDefault("nats.maxAge", 7*24*time.Hour)
}

// Override adjusts the viper instance after files and environment are read.
type Override func(v *viper.Viper)

// Set forces key to value.
func Set(key string, value interface{}) Override {
	return func(v *viper.Viper) { v.Set(key, value) }
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string, overrides ...Override) (*Config, error) {
	// Create new viper instance
	v := viper.New()
	setDefaults(v)

	// Config file settings
	v.SetConfigName("default") // name of config file (without extension)
	v.SetConfigType("yaml")    // REQUIRED if the config file does not have the extension in the name

	// Add lookup paths; an explicit YAML file wins over the search
	switch {
	case strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml"):
		v.SetConfigFile(path)
	case path != "":
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.wa-group-etl")
	v.AddConfigPath("/etc/wa-group-etl")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, apperrors.NewFatal(apperrors.ErrValidation, "error reading config file: %v", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		v.Set("database.mongoURI", uri)
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); creds != "" {
		v.Set("sheets.credentialsFile", creds)
	}
	for _, o := range overrides {
		o(v)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, apperrors.NewFatal(apperrors.ErrValidation, "unable to decode config into struct: %v", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		// Get the field tag value (mapstructure)
		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		// Squashed structs share the parent prefix
		if opts == "squash" && fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), parts...)
			continue
		}

		// Build the env var path
		path := append(append([]string(nil), parts...), name)
		key := strings.Join(path, ".")

		// If it's a struct, recursively bind its fields
		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		// Bind the env var
		_ = v.BindEnv(key)
	}
}

// String renders the configuration with secrets masked.
func (c Config) String() string {
	masked := c
	masked.Database.MongoURI = mask(c.Database.MongoURI)
	masked.Database.PostgresDSN = mask(c.Database.PostgresDSN)
	if strings.HasPrefix(strings.TrimSpace(c.Sheets.CredentialsFile), "{") {
		masked.Sheets.CredentialsFile = mask(c.Sheets.CredentialsFile)
	}
	type plain Config
	return fmt.Sprintf("%+v", plain(masked))
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
