package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/spf13/viper"
)

// Config is the typed view of everything spice reads from viper.
type Config struct {
	Matching   MatchingConfig
	LLM        LLMConfig
	Plaid      PlaidConfig
	SimpleFIN  SimpleFINConfig
	Gmail      GmailConfig
	Database   DatabaseConfig
	Logging    LoggingConfig
	Server     ServerConfig
	Enrichment EnrichmentConfig
	Jobs       JobsConfig
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// LLMConfig selects and tunes the AI categorization provider.
type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	RetryDelay  time.Duration
	RateLimit   int
	Timeout     time.Duration
}

// KindTolerance is the per-source-kind matching window.
type KindTolerance struct {
	AmountTolerance        float64
	AmountTolerancePercent float64
	DaysBefore             int
	DaysAfter              int
	MatchIncome            bool
}

// MatchingConfig holds thresholds, weights and windows for matching.
type MatchingConfig struct {
	Kinds              map[model.SourceKind]KindTolerance
	MinConfidence      int
	PrelabelConfidence int
	AmountWeight       float64
	DateWeight         float64
	TextWeight         float64
}

// EnrichmentConfig bounds AI calls.
type EnrichmentConfig struct {
	MaxRetries  int
	CallTimeout time.Duration
}

// JobsConfig sizes the job worker pool.
type JobsConfig struct {
	Workers      int
	QueueSize    int
	PersistEvery int
	PollInterval time.Duration
}

// ServerConfig is the HTTP polling surface.
type ServerConfig struct {
	Addr    string
	CertDir string
}

// PlaidConfig holds Plaid API credentials.
type PlaidConfig struct {
	ClientID    string
	Secret      string
	Environment string
	AccessToken string
}

// SimpleFINConfig locates the SimpleFIN bridge credentials.
type SimpleFINConfig struct {
	Token     string
	StateFile string
}

// GmailConfig holds receipt mailbox settings.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	TokenFile    string
	Query        string
	Mailbox      string
	Concurrency  int
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	configDir, dataDir := ConfigDir(), DataDir()

	v.SetDefault("database.path", filepath.Join(dataDir, "spice.db"))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 300)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", time.Second)
	v.SetDefault("llm.rate_limit", 50)
	v.SetDefault("llm.timeout", 30*time.Second)

	v.SetDefault("matching.min_confidence", 60)
	v.SetDefault("matching.prelabel_confidence", 95)
	v.SetDefault("matching.weights.amount", 0.60)
	v.SetDefault("matching.weights.date", 0.25)
	v.SetDefault("matching.weights.text", 0.15)
	for kind, tol := range DefaultKindTolerances() {
		prefix := "matching.kinds." + string(kind) + "."
		v.SetDefault(prefix+"amount_tolerance", tol.AmountTolerance)
		v.SetDefault(prefix+"amount_tolerance_percent", tol.AmountTolerancePercent)
		v.SetDefault(prefix+"days_before", tol.DaysBefore)
		v.SetDefault(prefix+"days_after", tol.DaysAfter)
		v.SetDefault(prefix+"match_income", tol.MatchIncome)
	}

	v.SetDefault("enrichment.max_retries", 3)
	v.SetDefault("enrichment.call_timeout", 30*time.Second)

	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_size", 16)
	v.SetDefault("jobs.persist_every", 10)
	v.SetDefault("jobs.poll_interval", 2*time.Second)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cert_dir", filepath.Join(configDir, "certs"))

	v.SetDefault("plaid.environment", "sandbox")
	v.SetDefault("simplefin.state_file", filepath.Join(dataDir, "simplefin_auth.json"))
	v.SetDefault("gmail.token_file", filepath.Join(configDir, "gmail_token.json"))
	v.SetDefault("gmail.query", "subject:(receipt OR order) newer_than:90d")
	v.SetDefault("gmail.mailbox", "me")
	v.SetDefault("gmail.concurrency", 4)
}

// BindEnv makes every key overridable as SPICE_<SECTION>_<KEY>.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("SPICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// DefaultKindTolerances returns the built-in matching windows.
// Order kinds with shipping or tax drift get a percentage window.
func DefaultKindTolerances() map[model.SourceKind]KindTolerance {
	exact := KindTolerance{AmountTolerance: 0.01, DaysBefore: 5, DaysAfter: 2}
	loose := KindTolerance{AmountTolerance: 0.01, AmountTolerancePercent: 3, DaysBefore: 7, DaysAfter: 3}
	return map[model.SourceKind]KindTolerance{
		model.KindRetailOrder:         exact,
		model.KindAppPurchase:         exact,
		model.KindManual:              {AmountTolerance: 0.01, DaysBefore: 5, DaysAfter: 2, MatchIncome: true},
		model.KindRetailOrderBusiness: loose,
		model.KindReceiptEmail:        loose,
	}
}

// Load builds a Config from v. Call SetDefaults first.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{Path: ExpandPath(v.GetString("database.path"))},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		LLM: LLMConfig{
			Provider:    v.GetString("llm.provider"),
			Model:       v.GetString("llm.model"),
			APIKey:      v.GetString("llm.api_key"),
			BaseURL:     v.GetString("llm.base_url"),
			Temperature: v.GetFloat64("llm.temperature"),
			MaxTokens:   v.GetInt("llm.max_tokens"),
			MaxRetries:  v.GetInt("llm.max_retries"),
			RetryDelay:  v.GetDuration("llm.retry_delay"),
			RateLimit:   v.GetInt("llm.rate_limit"),
			Timeout:     v.GetDuration("llm.timeout"),
		},
		Matching: MatchingConfig{
			MinConfidence:      v.GetInt("matching.min_confidence"),
			PrelabelConfidence: v.GetInt("matching.prelabel_confidence"),
			AmountWeight:       v.GetFloat64("matching.weights.amount"),
			DateWeight:         v.GetFloat64("matching.weights.date"),
			TextWeight:         v.GetFloat64("matching.weights.text"),
			Kinds:              make(map[model.SourceKind]KindTolerance),
		},
		Enrichment: EnrichmentConfig{
			MaxRetries:  v.GetInt("enrichment.max_retries"),
			CallTimeout: v.GetDuration("enrichment.call_timeout"),
		},
		Jobs: JobsConfig{
			Workers:      v.GetInt("jobs.workers"),
			QueueSize:    v.GetInt("jobs.queue_size"),
			PersistEvery: v.GetInt("jobs.persist_every"),
			PollInterval: v.GetDuration("jobs.poll_interval"),
		},
		Server: ServerConfig{
			Addr:    v.GetString("server.addr"),
			CertDir: ExpandPath(v.GetString("server.cert_dir")),
		},
		Plaid: PlaidConfig{
			ClientID:    v.GetString("plaid.client_id"),
			Secret:      v.GetString("plaid.secret"),
			Environment: v.GetString("plaid.environment"),
			AccessToken: v.GetString("plaid.access_token"),
		},
		SimpleFIN: SimpleFINConfig{
			Token:     v.GetString("simplefin.token"),
			StateFile: ExpandPath(v.GetString("simplefin.state_file")),
		},
		Gmail: GmailConfig{
			ClientID:     v.GetString("gmail.client_id"),
			ClientSecret: v.GetString("gmail.client_secret"),
			TokenFile:    ExpandPath(v.GetString("gmail.token_file")),
			Query:        v.GetString("gmail.query"),
			Mailbox:      v.GetString("gmail.mailbox"),
			Concurrency:  v.GetInt("gmail.concurrency"),
		},
	}

	for _, kind := range model.AllSourceKinds() {
		prefix := "matching.kinds." + string(kind) + "."
		cfg.Matching.Kinds[kind] = KindTolerance{
			AmountTolerance:        v.GetFloat64(prefix + "amount_tolerance"),
			AmountTolerancePercent: v.GetFloat64(prefix + "amount_tolerance_percent"),
			DaysBefore:             v.GetInt(prefix + "days_before"),
			DaysAfter:              v.GetInt(prefix + "days_after"),
			MatchIncome:            v.GetBool(prefix + "match_income"),
		}
	}

	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects out-of-range thresholds and sizes.
func (c *Config) Validate() error {
	m := c.Matching
	if m.MinConfidence < 0 || m.MinConfidence > 100 {
		return fmt.Errorf("%w: matching.min_confidence must be in [0,100], got %d", common.ErrInvalidConfig, m.MinConfidence)
	}
	if m.PrelabelConfidence < m.MinConfidence || m.PrelabelConfidence > 100 {
		return fmt.Errorf("%w: matching.prelabel_confidence must be in [min_confidence,100], got %d", common.ErrInvalidConfig, m.PrelabelConfidence)
	}
	if m.AmountWeight < 0 || m.DateWeight < 0 || m.TextWeight < 0 {
		return fmt.Errorf("%w: matching weights must be non-negative", common.ErrInvalidConfig)
	}
	if m.AmountWeight+m.DateWeight+m.TextWeight == 0 {
		return fmt.Errorf("%w: matching weights must not all be zero", common.ErrInvalidConfig)
	}
	for kind, tol := range m.Kinds {
		if tol.AmountTolerance < 0 || tol.AmountTolerancePercent < 0 || tol.DaysBefore < 0 || tol.DaysAfter < 0 {
			return fmt.Errorf("%w: matching.kinds.%s has a negative window", common.ErrInvalidConfig, kind)
		}
	}
	if c.Enrichment.MaxRetries < 1 {
		return fmt.Errorf("%w: enrichment.max_retries must be at least 1", common.ErrInvalidConfig)
	}
	if c.Jobs.Workers < 1 || c.Jobs.QueueSize < 1 {
		return fmt.Errorf("%w: jobs.workers and jobs.queue_size must be positive", common.ErrInvalidConfig)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}
	return nil
}
