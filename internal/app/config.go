package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/copilot-auth/internal/copilot"
	"github.com/florianilch/copilot-auth/internal/deviceflow"
	"github.com/florianilch/copilot-auth/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// SmokeProtocol selects the API dialect of the smoke test.
type SmokeProtocol string

const (
	SmokeProtocolOpenAI    SmokeProtocol = "openai"
	SmokeProtocolAnthropic SmokeProtocol = "anthropic"
)

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigTelemetryExporter = "none"
	DefaultConfigServerHost        = "0.0.0.0"
	DefaultConfigServerPort        = 4001
	DefaultConfigStatusPoll        = 2 * time.Second
	DefaultConfigShutdownTimeout   = 5 * time.Second

	DefaultConfigStorageSubdir     = "litellm/github_copilot"
	DefaultConfigAccessTokenFile   = "access-token"
	DefaultConfigAPIKeyFile        = "api-key.json"
	DefaultConfigEnvKey            = "GITHUB_PERSONAL_ACCESS_TOKEN"
	DefaultConfigKeyringService    = "copilot-auth-github"
	DefaultConfigRateLimitInterval = 2 * time.Second
	DefaultConfigRateLimitBurst    = 3
	DefaultConfigUpstreamTimeout   = 30 * time.Second
	DefaultConfigSmokeBaseURL      = "http://127.0.0.1:4000"
	DefaultConfigSmokeAPIKey       = "sk-1234"
	DefaultConfigSmokeModel        = "github_copilot/gpt-4.1"
	DefaultConfigSmokePrompt       = "Explain quantum computing in simple terms."
	DefaultConfigSmokeProtocol     = SmokeProtocolOpenAI
	DefaultConfigSmokeMaxTokens    = 1024
	DefaultConfigSmokeTimeout      = 2 * time.Minute
)

// TelemetryConfig holds OpenTelemetry log export settings.
type TelemetryConfig struct {
	Exporter string `json:"exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type

	// StatusPollInterval is how often the authorization page asks for its session state.
	StatusPollInterval time.Duration `json:"status_poll_interval" validate:"gte=0"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// StorageConfig describes where credentials are read from and written to.
type StorageConfig struct {
	// Dir holds both token files. Defaults to ~/.config/litellm/github_copilot,
	// the directory LiteLLM reads.
	Dir             string `json:"dir"`
	AccessTokenFile string `json:"access_token_file" validate:"required,excludesall=/\\"`
	APIKeyFile      string `json:"api_key_file" validate:"required,excludesall=/\\"`

	// Keyring mirrors the access token into the OS keyring and uses it as a fallback source.
	Keyring     bool   `json:"keyring"`
	KeyringUser string `json:"keyring_user,omitempty"`

	// EnvKey names the environment variable consulted when no stored token exists.
	EnvKey string `json:"env_key" validate:"required"`
}

// AccessTokenPath returns the full path of the access token file.
func (s *StorageConfig) AccessTokenPath() string {
	return filepath.Join(s.Dir, s.AccessTokenFile)
}

// APIKeyPath returns the full path of the API key file.
func (s *StorageConfig) APIKeyPath() string {
	return filepath.Join(s.Dir, s.APIKeyFile)
}

// NewAccessTokenStore creates the store a successful authorization writes to:
// the access token file, followed by the keyring when enabled.
func (s *StorageConfig) NewAccessTokenStore() (tokenstore.TokenStore, error) {
	file, err := tokenstore.NewFileStore(s.AccessTokenPath())
	if err != nil {
		return nil, err
	}
	if !s.Keyring {
		return file, nil
	}

	kr, err := tokenstore.NewKeyringStore(DefaultConfigKeyringService, s.KeyringUser)
	if err != nil {
		return nil, err
	}
	return tokenstore.Chain{file, kr}, nil
}

// NewAPIKeyStore creates the store for the Copilot API key document.
func (s *StorageConfig) NewAPIKeyStore() (*tokenstore.JSONFile, error) {
	return tokenstore.NewJSONFile(s.APIKeyPath())
}

// NewCredentialSource creates the read chain for a GitHub credential:
// access token file, keyring when enabled, then the environment.
func (s *StorageConfig) NewCredentialSource() (tokenstore.Chain, error) {
	var chain tokenstore.Chain

	file, err := tokenstore.NewFileStore(s.AccessTokenPath())
	if err != nil {
		return nil, err
	}
	chain = append(chain, file)

	if s.Keyring {
		kr, err := tokenstore.NewKeyringStore(DefaultConfigKeyringService, s.KeyringUser)
		if err != nil {
			return nil, err
		}
		chain = append(chain, kr)
	}

	env, err := tokenstore.NewEnvStore(s.EnvKey)
	if err != nil {
		return nil, err
	}
	return append(chain, env), nil
}

// GitHubConfig holds upstream endpoints and the editor identity presented to them.
type GitHubConfig struct {
	ClientID            string        `json:"client_id" validate:"required"`
	DeviceCodeURL       string        `json:"device_code_url" validate:"required,url"`
	AccessTokenURL      string        `json:"access_token_url" validate:"required,url"`
	CopilotTokenURL     string        `json:"copilot_token_url" validate:"required,url"`
	ModelsURL           string        `json:"models_url" validate:"required,url"`
	EditorVersion       string        `json:"editor_version" validate:"required"`
	EditorPluginVersion string        `json:"editor_plugin_version" validate:"required"`
	UserAgent           string        `json:"user_agent" validate:"required"`
	Timeout             time.Duration `json:"timeout"`
}

// Identity returns the editor identity sent to GitHub and the Copilot API.
func (g *GitHubConfig) Identity() copilot.Identity {
	return copilot.Identity{
		EditorVersion:       g.EditorVersion,
		EditorPluginVersion: g.EditorPluginVersion,
		UserAgent:           g.UserAgent,
	}
}

// NewCopilotClient creates a Copilot API client for the configured endpoints.
func (g *GitHubConfig) NewCopilotClient() *copilot.Client {
	return copilot.NewClient(
		copilot.WithTokenURL(g.CopilotTokenURL),
		copilot.WithModelsURL(g.ModelsURL),
		copilot.WithIdentity(g.Identity()),
		copilot.WithTimeout(g.Timeout),
	)
}

// DeviceFlowConfig tunes the device authorization.
type DeviceFlowConfig struct {
	InitAttempts int           `json:"init_attempts" validate:"gte=1"`
	RetryBase    time.Duration `json:"retry_base" validate:"gt=0"`
	RetryStep    time.Duration `json:"retry_step" validate:"gt=0"`
	MaxPolls     int           `json:"max_polls" validate:"gte=1"`
}

// RateLimitConfig bounds how often a new authorization can be started.
type RateLimitConfig struct {
	Interval time.Duration `json:"interval" validate:"gt=0"`
	Burst    int           `json:"burst" validate:"gte=1"`
}

// SmokeConfig holds the smoke test target.
type SmokeConfig struct {
	BaseURL   string        `json:"base_url" validate:"required,url"`
	APIKey    string        `json:"api_key"`
	Model     string        `json:"model" validate:"required"`
	Prompt    string        `json:"prompt" validate:"required"`
	Protocol  SmokeProtocol `json:"protocol" validate:"oneof=openai anthropic"`
	MaxTokens int           `json:"max_tokens" validate:"gt=0"`
	Timeout   time.Duration `json:"timeout"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel   slog.Level       `json:"log_level"`
	LogFormat  LogFormat        `json:"log_format" validate:"oneof=text json"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
	Server     ServerConfig     `json:"server"`
	Shutdown   ShutdownConfig   `json:"shutdown"`
	Storage    StorageConfig    `json:"storage"`
	GitHub     GitHubConfig     `json:"github"`
	DeviceFlow DeviceFlowConfig `json:"device_flow"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Smoke      SmokeConfig      `json:"smoke"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Server.StatusPollInterval == 0 {
		c.Server.StatusPollInterval = DefaultConfigStatusPoll
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}

	if c.Storage.AccessTokenFile == "" {
		c.Storage.AccessTokenFile = DefaultConfigAccessTokenFile
	}
	if c.Storage.APIKeyFile == "" {
		c.Storage.APIKeyFile = DefaultConfigAPIKeyFile
	}
	if c.Storage.EnvKey == "" {
		c.Storage.EnvKey = DefaultConfigEnvKey
	}
	if c.Storage.Dir == "" {
		// LiteLLM looks under ~/.config on every platform, so os.UserConfigDir is not used
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("storage.dir required (auto-detect failed: %w)", err)
		}
		c.Storage.Dir = filepath.Join(home, ".config", filepath.FromSlash(DefaultConfigStorageSubdir))
	}
	if c.Storage.Keyring && c.Storage.KeyringUser == "" {
		currentUser, err := user.Current()
		if err != nil {
			return fmt.Errorf("storage.keyring_user required (auto-detect failed: %w)", err)
		}
		c.Storage.KeyringUser = currentUser.Username
	}

	if c.GitHub.ClientID == "" {
		c.GitHub.ClientID = deviceflow.ClientID
	}
	if c.GitHub.DeviceCodeURL == "" {
		c.GitHub.DeviceCodeURL = deviceflow.Endpoint.DeviceAuthURL
	}
	if c.GitHub.AccessTokenURL == "" {
		c.GitHub.AccessTokenURL = deviceflow.Endpoint.TokenURL
	}
	if c.GitHub.CopilotTokenURL == "" {
		c.GitHub.CopilotTokenURL = copilot.DefaultTokenURL
	}
	if c.GitHub.ModelsURL == "" {
		c.GitHub.ModelsURL = copilot.DefaultModelsURL
	}
	if c.GitHub.EditorVersion == "" {
		c.GitHub.EditorVersion = copilot.DefaultEditorVersion
	}
	if c.GitHub.EditorPluginVersion == "" {
		c.GitHub.EditorPluginVersion = copilot.DefaultEditorPluginVersion
	}
	if c.GitHub.UserAgent == "" {
		c.GitHub.UserAgent = copilot.DefaultUserAgent
	}
	if c.GitHub.Timeout == 0 {
		c.GitHub.Timeout = DefaultConfigUpstreamTimeout
	}

	flowDefaults := deviceflow.DefaultConfig()
	if c.DeviceFlow.InitAttempts == 0 {
		c.DeviceFlow.InitAttempts = flowDefaults.InitAttempts
	}
	if c.DeviceFlow.RetryBase == 0 {
		c.DeviceFlow.RetryBase = flowDefaults.RetryBase
	}
	if c.DeviceFlow.RetryStep == 0 {
		c.DeviceFlow.RetryStep = flowDefaults.RetryStep
	}
	if c.DeviceFlow.MaxPolls == 0 {
		c.DeviceFlow.MaxPolls = flowDefaults.MaxPolls
	}

	if c.RateLimit.Interval == 0 {
		c.RateLimit.Interval = DefaultConfigRateLimitInterval
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultConfigRateLimitBurst
	}

	if c.Smoke.BaseURL == "" {
		c.Smoke.BaseURL = DefaultConfigSmokeBaseURL
	}
	if c.Smoke.APIKey == "" {
		c.Smoke.APIKey = DefaultConfigSmokeAPIKey
	}
	if c.Smoke.Model == "" {
		c.Smoke.Model = DefaultConfigSmokeModel
	}
	if c.Smoke.Prompt == "" {
		c.Smoke.Prompt = DefaultConfigSmokePrompt
	}
	if c.Smoke.Protocol == "" {
		c.Smoke.Protocol = DefaultConfigSmokeProtocol
	}
	if c.Smoke.MaxTokens == 0 {
		c.Smoke.MaxTokens = DefaultConfigSmokeMaxTokens
	}
	if c.Smoke.Timeout == 0 {
		c.Smoke.Timeout = DefaultConfigSmokeTimeout
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Storage.Dir == "" {
		return errors.New("storage.dir required")
	}
	if c.Storage.AccessTokenFile == c.Storage.APIKeyFile {
		return errors.New("storage.access_token_file and storage.api_key_file must differ")
	}
	if c.Storage.Keyring && c.Storage.KeyringUser == "" {
		return errors.New("storage.keyring_user required when storage.keyring is enabled")
	}

	return nil
}

// FlowConfig assembles the device flow parameters from the GitHub and tuning sections.
func (c *Config) FlowConfig() deviceflow.Config {
	endpoint := deviceflow.Endpoint
	endpoint.DeviceAuthURL = c.GitHub.DeviceCodeURL
	endpoint.TokenURL = c.GitHub.AccessTokenURL

	return deviceflow.Config{
		ClientID:       c.GitHub.ClientID,
		Scopes:         []string{deviceflow.Scope},
		Endpoint:       endpoint,
		InitAttempts:   c.DeviceFlow.InitAttempts,
		RetryBase:      c.DeviceFlow.RetryBase,
		RetryStep:      c.DeviceFlow.RetryStep,
		MaxPolls:       c.DeviceFlow.MaxPolls,
		RequestTimeout: c.GitHub.Timeout,
	}
}
