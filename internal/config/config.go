// Package config provides configuration management for mnemo.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	DefaultWorkerHost = "127.0.0.1"
	DefaultWorkerPort = 37777
	dataDirName       = ".mnemo"
	dbFileName        = "mnemo.db"
	settingsFileName  = "settings.json"
	vocabFileName     = "vocabulary.yaml"
)

// Environment overrides.
const (
	EnvWorkerPort = "MNEMO_WORKER_PORT"
	EnvDataDir    = "MNEMO_DATA_DIR"
)

// Config holds runtime settings.
type Config struct {
	WorkerHost       string   `json:"MNEMO_WORKER_HOST"`
	DBPath           string   `json:"MNEMO_DB_PATH"`
	ChromaCommand    string   `json:"MNEMO_CHROMA_COMMAND"`
	ChromaCollection string   `json:"MNEMO_CHROMA_COLLECTION"`
	VocabularyPath   string   `json:"MNEMO_VOCABULARY_PATH"`
	ChromaArgs       []string `json:"MNEMO_CHROMA_ARGS"`

	WorkerPort          int `json:"MNEMO_WORKER_PORT"`
	MaxConns            int `json:"MNEMO_MAX_CONNS"`
	RecencyDays         int `json:"MNEMO_RECENCY_DAYS"`
	SemanticBatchSize   int `json:"MNEMO_SEMANTIC_BATCH_SIZE"`
	SearchLimit         int `json:"MNEMO_SEARCH_LIMIT"`
	ContextObservations int `json:"MNEMO_CONTEXT_OBSERVATIONS"`
	ContextSessionCount int `json:"MNEMO_CONTEXT_SESSION_COUNT"`
	ContextTokenBudget  int `json:"MNEMO_CONTEXT_TOKEN_BUDGET"`
	QueueMaxRetries     int `json:"MNEMO_QUEUE_MAX_RETRIES"`
	QueueStaleMinutes   int `json:"MNEMO_QUEUE_STALE_MINUTES"`

	// Jaccard similarity at which recent-context observations collapse; 0 disables.
	ContextDedupeThreshold float64 `json:"MNEMO_CONTEXT_DEDUPE_THRESHOLD"`

	ChromaEnabled bool `json:"MNEMO_CHROMA_ENABLED"`
}

// settingsFile mirrors Config with every field optional, so a partial file
// only overrides what it names. List values may be a JSON array or a
// comma-separated string.
type settingsFile struct {
	WorkerHost             *string    `json:"MNEMO_WORKER_HOST"`
	DBPath                 *string    `json:"MNEMO_DB_PATH"`
	ChromaCommand          *string    `json:"MNEMO_CHROMA_COMMAND"`
	ChromaCollection       *string    `json:"MNEMO_CHROMA_COLLECTION"`
	VocabularyPath         *string    `json:"MNEMO_VOCABULARY_PATH"`
	ChromaArgs             stringList `json:"MNEMO_CHROMA_ARGS"`
	WorkerPort             *int       `json:"MNEMO_WORKER_PORT"`
	MaxConns               *int       `json:"MNEMO_MAX_CONNS"`
	RecencyDays            *int       `json:"MNEMO_RECENCY_DAYS"`
	SemanticBatchSize      *int       `json:"MNEMO_SEMANTIC_BATCH_SIZE"`
	SearchLimit            *int       `json:"MNEMO_SEARCH_LIMIT"`
	ContextObservations    *int       `json:"MNEMO_CONTEXT_OBSERVATIONS"`
	ContextSessionCount    *int       `json:"MNEMO_CONTEXT_SESSION_COUNT"`
	ContextTokenBudget     *int       `json:"MNEMO_CONTEXT_TOKEN_BUDGET"`
	QueueMaxRetries        *int       `json:"MNEMO_QUEUE_MAX_RETRIES"`
	QueueStaleMinutes      *int       `json:"MNEMO_QUEUE_STALE_MINUTES"`
	ContextDedupeThreshold *float64   `json:"MNEMO_CONTEXT_DEDUPE_THRESHOLD"`
	ChromaEnabled          *bool      `json:"MNEMO_CHROMA_ENABLED"`
}

type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = splitTrim(s)
	return nil
}

var (
	global     *Config
	globalOnce sync.Once
)

// DataDir returns the data directory, ~/.mnemo unless MNEMO_DATA_DIR is set.
func DataDir() string {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, dataDirName)
}

// DBPath returns the default database path.
func DBPath() string {
	return filepath.Join(DataDir(), dbFileName)
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), settingsFileName)
}

// VocabularyPath returns the default vocabulary file path.
func VocabularyPath() string {
	return filepath.Join(DataDir(), vocabFileName)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WorkerHost:          DefaultWorkerHost,
		WorkerPort:          DefaultWorkerPort,
		DBPath:              DBPath(),
		MaxConns:            1,
		ChromaCommand:       "uvx",
		ChromaArgs:          []string{"chroma-mcp", "--client-type", "persistent", "--data-dir", filepath.Join(DataDir(), "chroma")},
		ChromaCollection:    "mnemo",
		RecencyDays:         90,
		SemanticBatchSize:   100,
		SearchLimit:         20,
		ContextObservations: 50,
		ContextSessionCount: 10,
		QueueMaxRetries:     3,
		QueueStaleMinutes:   5,
		VocabularyPath:      VocabularyPath(),

		ContextDedupeThreshold: 0.6,
	}
}

// Load reads the settings file over the defaults. A missing or malformed
// file yields the defaults; only unexpected read errors are returned.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	var s settingsFile
	if err := json.Unmarshal(data, &s); err != nil {
		log.Warn().Err(err).Str("path", SettingsPath()).Msg("Ignoring malformed settings file")
		return cfg, nil
	}
	s.apply(cfg)
	return cfg, nil
}

func (s *settingsFile) apply(cfg *Config) {
	setString(&cfg.WorkerHost, s.WorkerHost)
	setString(&cfg.DBPath, s.DBPath)
	setString(&cfg.ChromaCommand, s.ChromaCommand)
	setString(&cfg.ChromaCollection, s.ChromaCollection)
	setString(&cfg.VocabularyPath, s.VocabularyPath)
	if s.ChromaArgs != nil {
		cfg.ChromaArgs = s.ChromaArgs
	}
	setPositive(&cfg.WorkerPort, s.WorkerPort)
	setPositive(&cfg.MaxConns, s.MaxConns)
	setPositive(&cfg.RecencyDays, s.RecencyDays)
	setPositive(&cfg.SemanticBatchSize, s.SemanticBatchSize)
	setPositive(&cfg.SearchLimit, s.SearchLimit)
	setPositive(&cfg.ContextObservations, s.ContextObservations)
	setPositive(&cfg.ContextSessionCount, s.ContextSessionCount)
	setPositive(&cfg.QueueMaxRetries, s.QueueMaxRetries)
	setPositive(&cfg.QueueStaleMinutes, s.QueueStaleMinutes)
	if s.ContextTokenBudget != nil && *s.ContextTokenBudget >= 0 {
		cfg.ContextTokenBudget = *s.ContextTokenBudget
	}
	if v := s.ContextDedupeThreshold; v != nil && *v >= 0 && *v <= 1 {
		cfg.ContextDedupeThreshold = *v
	}
	if s.ChromaEnabled != nil {
		cfg.ChromaEnabled = *s.ChromaEnabled
	}
}

func setString(dst *string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		*dst = strings.TrimSpace(*v)
	}
}

func setPositive(dst *int, v *int) {
	if v != nil && *v > 0 {
		*dst = *v
	}
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load settings, using defaults")
			cfg = Default()
		}
		global = cfg
	})
	return global
}

// GetWorkerPort returns the worker port, honouring MNEMO_WORKER_PORT.
func GetWorkerPort() int {
	if v := os.Getenv(EnvWorkerPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	return Get().WorkerPort
}

// RecencyWindow is the age limit for semantic hits.
func (c *Config) RecencyWindow() time.Duration {
	return time.Duration(c.RecencyDays) * 24 * time.Hour
}

// StaleThreshold is how long a queue message may sit in processing before
// it is considered abandoned.
func (c *Config) StaleThreshold() time.Duration {
	return time.Duration(c.QueueStaleMinutes) * time.Minute
}

// EnsureDataDir creates the data directory.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// EnsureAll creates the data directory and settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// splitTrim splits a comma-separated string, trimming blanks.
func splitTrim(s string) []string {
	result := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
