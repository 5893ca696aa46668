// Package config is the railalert configuration file, with overrides from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/railalert/pkg/nnload"
	"github.com/cyclopcam/railalert/server/publish"
	"github.com/joho/godotenv"
)

const DefaultConfigFile = "railalert.json"

type Config struct {
	Regions      string        `json:"regions"`      // Path to the per-location region sets (JSON). Empty = no regions anywhere.
	ImageDir     string        `json:"imageDir"`     // Directory holding the alert images of a batch
	MetadataCSV  string        `json:"metadataCSV"`  // Metadata table with an Image column
	ResultsCSV   string        `json:"resultsCSV"`   // Results table. An .xlsx copy is written alongside.
	RecordDB     dbh.DBConfig  `json:"recordDB"`     // Classification records (sqlite3 or postgres). An empty database name disables the store.
	ModelDir     string        `json:"modelDir"`     // Where model configs are stored
	AuditStorage StorageConfig `json:"auditStorage"` // Annotated copies of every image. Optional.

	Models        Models              `json:"models"`
	GateValidator GateValidatorConfig `json:"gateValidator"`
	Disambiguator DisambiguatorConfig `json:"disambiguator"`
	Classifier    ClassifierConfig    `json:"classifier"`
	HeaderOCR     HeaderOCRConfig     `json:"headerOCR"`
	Kafka         publish.Config      `json:"kafka"`
	HTTP          HTTPConfig          `json:"http"`

	Workers int `json:"workers"` // Images classified concurrently in batch mode
}

type Models struct {
	Gate    nnload.ModelSpec `json:"gate"`    // Finds gate arms, when a location has no gate regions. Optional.
	Primary nnload.ModelSpec `json:"primary"` // Finds trains, trucks and legal-occupier vehicles. Required.
	General nnload.ModelSpec `json:"general"` // General (COCO) detector for the fallback stage. Optional.
}

type GateValidatorConfig struct {
	URL            string  `json:"url"`
	TimeoutSeconds float64 `json:"timeoutSeconds"`
}

type DisambiguatorConfig struct {
	Provider       string  `json:"provider"` // "openai" (also any compatible server) or "gemini". Empty = disabled.
	BaseURL        string  `json:"baseUrl"`  // openai only
	APIKey         string  `json:"apiKey"`
	Model          string  `json:"model"`
	TimeoutSeconds float64 `json:"timeoutSeconds"`
}

type ClassifierConfig struct {
	GateThreshold          float32  `json:"gateThreshold"`
	PrimaryThreshold       float32  `json:"primaryThreshold"`
	FallbackThreshold      float32  `json:"fallbackThreshold"`
	GateAspectRatio        float32  `json:"gateAspectRatio"`
	FallbackClasses        []string `json:"fallbackClasses"`
	GateSuppressesFallback bool     `json:"gateSuppressesFallback"`
	JPEGQuality            int      `json:"jpegQuality"`
}

type HeaderOCRConfig struct {
	Enabled        bool   `json:"enabled"`
	Language       string `json:"language"`
	TessdataPrefix string `json:"tessdataPrefix"`
	Whitelist      string `json:"whitelist"`
}

type HTTPConfig struct {
	Listen             string `json:"listen"`             // eg ":8080"
	RateLimitPerMinute int    `json:"rateLimitPerMinute"` // Per client IP, on the classify endpoint
	MaxImageBytes      int64  `json:"maxImageBytes"`
}

// One of the storage options may be configured (i.e. either 'filesystem' or 'gcs')
type StorageConfig struct {
	Filesystem *StorageConfigFS  `json:"filesystem"`
	GCS        *StorageConfigGCS `json:"gcs"`
}

type StorageConfigFS struct {
	Root string `json:"root"` // Path to the root of the filesystem
}

type StorageConfigGCS struct {
	Bucket string `json:"bucket"` // Name of the GCS bucket
	Prefix string `json:"prefix"` // Prepended to every object name
	Public bool   `json:"public"` // Whether the bucket is public, so that clients can be given direct URLs
}

// Default returns the configuration that we use when there is no config file
func Default() *Config {
	return &Config{
		ImageDir:    "dataset/images",
		MetadataCSV: "dataset/metadata.csv",
		ResultsCSV:  "dataset/results.csv",
		RecordDB:    dbh.MakeSqliteConfig("dataset/records.sqlite"),
		ModelDir:    "models",
		Workers:     1,
		GateValidator: GateValidatorConfig{
			TimeoutSeconds: 5,
		},
		Disambiguator: DisambiguatorConfig{
			TimeoutSeconds: 20,
		},
		HTTP: HTTPConfig{
			Listen:             ":8080",
			RateLimitPerMinute: 120,
			MaxImageBytes:      20 * 1024 * 1024,
		},
	}
}

// LoadConfig reads the config file on top of Default(), and then applies the environment.
// A missing file is not an error if filename is empty.
func LoadConfig(filename string) (*Config, error) {
	cfg := Default()
	explicit := filename != ""
	if filename == "" {
		filename = DefaultConfigFile
	}
	raw, err := os.ReadFile(filename)
	if err == nil {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
		}
	} else if explicit || !os.IsNotExist(err) {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadDotEnv loads .env files into the environment. Variables that are already set win.
// Missing files are ignored.
func LoadDotEnv(filenames ...string) {
	for _, fn := range filenames {
		if _, err := os.Stat(fn); err == nil {
			godotenv.Load(fn)
		}
	}
}

// ApplyEnv overrides paths, endpoints and secrets from environment variables
func (c *Config) ApplyEnv() {
	setString(&c.Regions, "REGIONS_PATH")
	setString(&c.ImageDir, "IMAGE_DIR")
	setString(&c.MetadataCSV, "METADATA_CSV_PATH")
	setString(&c.ResultsCSV, "FINAL_RESULTS_CSV")
	setString(&c.RecordDB.Driver, "RECORD_DB_DRIVER")
	setString(&c.RecordDB.Database, "RECORD_DB_PATH")
	setString(&c.RecordDB.Host, "RECORD_DB_HOST")
	setInt(&c.RecordDB.Port, "RECORD_DB_PORT")
	setString(&c.RecordDB.Username, "RECORD_DB_USER")
	setString(&c.RecordDB.Password, "RECORD_DB_PASSWORD")
	setString(&c.ModelDir, "MODEL_DIR")
	if v := os.Getenv("DETECTION_OUTPUT_DIR"); v != "" {
		c.AuditStorage = StorageConfig{Filesystem: &StorageConfigFS{Root: v}}
	}

	setString(&c.Models.Gate.URL, "GATE_MODEL_URL")
	setString(&c.Models.Primary.URL, "PRIMARY_MODEL_URL")
	setString(&c.Models.General.URL, "GENERAL_MODEL_URL")

	setString(&c.GateValidator.URL, "SIGNAL_API_URL")

	if v := os.Getenv("OPENAI_API_KEY"); v != "" && (c.Disambiguator.Provider == "" || c.Disambiguator.Provider == "openai") {
		c.Disambiguator.Provider = "openai"
		c.Disambiguator.APIKey = v
		setString(&c.Disambiguator.Model, "OPENAI_MODEL")
		setString(&c.Disambiguator.BaseURL, "OPENAI_BASE_URL")
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && (c.Disambiguator.Provider == "" || c.Disambiguator.Provider == "gemini") {
		c.Disambiguator.Provider = "gemini"
		c.Disambiguator.APIKey = v
		setString(&c.Disambiguator.Model, "GEMINI_MODEL")
	}

	setString(&c.Kafka.BootstrapServers, "KAFKA_BOOTSTRAP_SERVERS")
	setString(&c.Kafka.Topic, "KAFKA_TOPIC")
	setString(&c.Kafka.SecurityProtocol, "KAFKA_SECURITY_PROTOCOL")
	setString(&c.Kafka.SASLMechanism, "KAFKA_SASL_MECHANISM")
	setString(&c.Kafka.SASLUsername, "KAFKA_SASL_USERNAME")
	setString(&c.Kafka.SASLPassword, "KAFKA_SASL_PASSWORD")

	setString(&c.HTTP.Listen, "HTTP_LISTEN")
	setInt(&c.Workers, "WORKERS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

// Validate returns an error for a configuration that can't classify anything
func (c *Config) Validate() error {
	if c.Models.Primary.URL == "" {
		return fmt.Errorf("models.primary.url is required")
	}
	switch c.Disambiguator.Provider {
	case "", "openai", "gemini":
	default:
		return fmt.Errorf("Unknown disambiguator provider '%v'", c.Disambiguator.Provider)
	}
	switch c.RecordDB.Driver {
	case dbh.DriverSqlite, dbh.DriverPostgres:
	default:
		return fmt.Errorf("Unknown recordDB driver '%v'", c.RecordDB.Driver)
	}
	if c.AuditStorage.Filesystem != nil && c.AuditStorage.GCS != nil {
		return fmt.Errorf("Only one of auditStorage.filesystem and auditStorage.gcs may be set")
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (g *GateValidatorConfig) Timeout() time.Duration {
	return seconds(g.TimeoutSeconds)
}

func (d *DisambiguatorConfig) Timeout() time.Duration {
	return seconds(d.TimeoutSeconds)
}
