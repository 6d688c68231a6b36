package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Need selects which groups of required keys Validate checks.
type Need int

const (
	NeedCRM Need = 1 << iota
	NeedLLM
	NeedAssistant
	NeedEmail
)

type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	APIToken string `yaml:"api_token"`

	CRMBaseURL    string  `yaml:"crm_base_url"`
	CRMAPIKey     string  `yaml:"crm_api_key"`
	CRMAPIVersion string  `yaml:"crm_api_version"`
	CRMLocationID string  `yaml:"crm_location_id"`
	CRMRatePerSec float64 `yaml:"crm_rate_per_sec"`

	LLMProvider     string `yaml:"llm_provider"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`

	OpenAIAPIKey   string  `yaml:"openai_api_key"`
	OpenAIBaseURL  string  `yaml:"openai_base_url"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	AssistantID    string  `yaml:"assistant_id"`
	DedupMode      string  `yaml:"dedup_mode"`
	DedupThreshold float64 `yaml:"dedup_threshold"`

	CallTimeout      time.Duration `yaml:"call_timeout"`
	ReportsDir       string        `yaml:"reports_dir"`
	BatchConcurrency int           `yaml:"batch_concurrency"`
	PendingFile      string        `yaml:"pending_file"`

	DatabaseURL  string `yaml:"database_url"`
	NatsURL      string `yaml:"nats_url"`
	NatsToken    string `yaml:"nats_token"`
	SlackToken   string `yaml:"slack_bot_token"`
	SlackChannel string `yaml:"slack_channel"`

	Email Email `yaml:"email"`

	ServerURL string `yaml:"server_url"`
}

// Email holds SMTP settings and recipients.
type Email struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	User         string   `yaml:"user"`
	Password     string   `yaml:"password"`
	SenderEmail  string   `yaml:"sender_email"`
	SenderName   string   `yaml:"sender_name"`
	CC           []string `yaml:"cc"`
	BCC          []string `yaml:"bcc"`
	ClientEmail  string   `yaml:"client_email"`
	TeamEmail    string   `yaml:"team_email"`
	ManagerEmail string   `yaml:"manager_email"`

	EnableClient       bool `yaml:"enable_client"`
	EnableTeam         bool `yaml:"enable_team"`
	EnableImprovements bool `yaml:"enable_improvements"`
}

// Enabled reports whether any email notification is switched on.
func (e Email) Enabled() bool {
	return e.EnableClient || e.EnableTeam || e.EnableImprovements
}

func defaults() Config {
	return Config{
		Port:             8760,
		LogLevel:         "info",
		CRMBaseURL:       "https://services.leadconnectorhq.com",
		CRMAPIVersion:    "2021-04-15",
		CRMRatePerSec:    5,
		LLMProvider:      "openai",
		AnthropicModel:   "claude-sonnet-4-20250514",
		OpenAIBaseURL:    "https://api.openai.com/v1",
		Model:            "gpt-4-turbo-preview",
		EmbeddingModel:   "text-embedding-ada-002",
		DedupMode:        "semantic",
		DedupThreshold:   0.8,
		CallTimeout:      60 * time.Second,
		ReportsDir:       "reports",
		BatchConcurrency: 1,
		Email: Email{
			Host:       "smtp.gmail.com",
			Port:       587,
			SenderName: "Sales Analysis",
		},
		ServerURL: "http://localhost:8760",
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// VERDICT_CONFIG, and the environment (a local .env file is read first).
// Environment values win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("VERDICT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Port = envInt("VERDICT_PORT", cfg.Port)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.APIToken = envStr("VERDICT_API_TOKEN", cfg.APIToken)

	cfg.CRMBaseURL = envStr("CRM_BASE_URL", cfg.CRMBaseURL)
	cfg.CRMAPIKey = envStr("GHL_API_KEY", cfg.CRMAPIKey)
	cfg.CRMAPIVersion = envStr("CRM_API_VERSION", cfg.CRMAPIVersion)
	cfg.CRMLocationID = envStr("CRM_LOCATION_ID", cfg.CRMLocationID)
	cfg.CRMRatePerSec = envFloat("CRM_RATE_PER_SEC", cfg.CRMRatePerSec)

	cfg.LLMProvider = strings.ToLower(envStr("LLM_PROVIDER", cfg.LLMProvider))
	cfg.AnthropicAPIKey = envStr("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.AnthropicModel = envStr("ANTHROPIC_MODEL", cfg.AnthropicModel)

	cfg.OpenAIAPIKey = envStr("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = envStr("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.Model = envStr("OPENAI_MODEL", cfg.Model)
	cfg.EmbeddingModel = envStr("OPENAI_EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.AssistantID = envStr("ASSISTANT_ID", cfg.AssistantID)
	cfg.DedupMode = strings.ToLower(envStr("DEDUP_MODE", cfg.DedupMode))
	cfg.DedupThreshold = envFloat("DEDUP_THRESHOLD", cfg.DedupThreshold)

	cfg.CallTimeout = envDuration("CALL_TIMEOUT", cfg.CallTimeout)
	cfg.ReportsDir = envStr("REPORTS_DIR", cfg.ReportsDir)
	cfg.BatchConcurrency = clampInt(envInt("BATCH_CONCURRENCY", cfg.BatchConcurrency), 1, 16)
	cfg.PendingFile = envStr("PENDING_FILE", cfg.PendingFile)
	if cfg.PendingFile == "" {
		cfg.PendingFile = cfg.ReportsDir + "/pending_improvements.json"
	}

	cfg.DatabaseURL = envStr("DATABASE_URL", cfg.DatabaseURL)
	cfg.NatsURL = envStr("NATS_URL", cfg.NatsURL)
	cfg.NatsToken = envStr("NATS_TOKEN", cfg.NatsToken)
	cfg.SlackToken = envStr("SLACK_BOT_TOKEN", cfg.SlackToken)
	cfg.SlackChannel = envStr("SLACK_CHANNEL", cfg.SlackChannel)

	e := &cfg.Email
	e.Host = envStr("EMAIL_HOST", e.Host)
	e.Port = envInt("EMAIL_PORT", e.Port)
	e.User = envStr("EMAIL_USER", e.User)
	e.Password = envStr("EMAIL_PASS", e.Password)
	e.SenderEmail = envStr("SENDER_EMAIL", e.SenderEmail)
	if e.SenderEmail == "" {
		e.SenderEmail = e.User
	}
	e.SenderName = envStr("SENDER_NAME", e.SenderName)
	e.CC = envList("EMAIL_CC", e.CC)
	e.BCC = envList("EMAIL_BCC", e.BCC)
	e.ClientEmail = envStr("CLIENT_EMAIL", e.ClientEmail)
	e.TeamEmail = envStr("TEAM_EMAIL", e.TeamEmail)
	e.ManagerEmail = envStr("MANAGER_EMAIL", e.ManagerEmail)
	e.EnableClient = envBool("ENABLE_CLIENT_EMAILS", e.EnableClient)
	e.EnableTeam = envBool("ENABLE_TEAM_EMAILS", e.EnableTeam)
	e.EnableImprovements = envBool("ENABLE_IMPROVEMENT_EMAILS", e.EnableImprovements)

	cfg.ServerURL = strings.TrimRight(envStr("SERVER_URL", cfg.ServerURL), "/")

	return cfg, nil
}

// Validate reports every required key missing for the requested capabilities.
func (c Config) Validate(needs Need) error {
	var missing []string
	if needs&NeedCRM != 0 && c.CRMAPIKey == "" {
		missing = append(missing, "GHL_API_KEY")
	}
	needsOpenAI := needs&NeedAssistant != 0 || (needs&NeedLLM != 0 && c.LLMProvider != "anthropic")
	if needsOpenAI && c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if needs&NeedLLM != 0 && c.LLMProvider == "anthropic" && c.AnthropicAPIKey == "" {
		missing = append(missing, "ANTHROPIC_API_KEY")
	}
	if needs&NeedAssistant != 0 && c.AssistantID == "" {
		missing = append(missing, "ASSISTANT_ID")
	}
	if needs&NeedEmail != 0 && c.Email.Enabled() {
		if c.Email.User == "" {
			missing = append(missing, "EMAIL_USER")
		}
		if c.Email.Password == "" {
			missing = append(missing, "EMAIL_PASS")
		}
		if c.Email.EnableTeam && c.Email.TeamEmail == "" {
			missing = append(missing, "TEAM_EMAIL")
		}
		if c.Email.EnableImprovements && c.Email.ManagerEmail == "" {
			missing = append(missing, "MANAGER_EMAIL")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	switch c.LLMProvider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("invalid LLM_PROVIDER %q: want openai or anthropic", c.LLMProvider)
	}
	switch c.DedupMode {
	case "exact", "semantic":
	default:
		return fmt.Errorf("invalid DEDUP_MODE %q: want exact or semantic", c.DedupMode)
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold >= 1 {
		return errors.New("DEDUP_THRESHOLD must be between 0 and 1")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
