package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"eino_session_agent/pkg"
	"eino_session_agent/src/logger"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderArk      = "ark"
	ProviderOllama   = "ollama"

	StoreMemory = "memory"
	StoreRedis  = "redis"

	VariantClassifying = "classifying"
	VariantSimple      = "simple"
)

// Config holds all process configuration
type Config struct {
	App      AppConfig        `envconfig:"APP"`
	HTTP     HTTPConfig       `envconfig:"HTTP"`
	Log      logger.LogConfig `envconfig:"LOG"`
	LLM      LLMConfig        `envconfig:"LLM"`
	Session  SessionConfig    `envconfig:"SESSION"`
	Store    StoreConfig      `envconfig:"STATE"`
	Redis    RedisConfig      `envconfig:"REDIS"`
	Workflow WorkflowConfig   `envconfig:"WORKFLOW"`

	// Routing is read from Workflow.RoutesFile, not from the environment
	Routing RoutingConfig `ignored:"true"`
}

type AppConfig struct {
	Name        string `envconfig:"NAME" default:"Eino Session Agent API"`
	Version     string `envconfig:"VERSION" default:"1.0.0"`
	Description string `envconfig:"DESCRIPTION" default:"Session-based AI conversations routed through an Eino workflow"`
}

type HTTPConfig struct {
	Addr            string        `envconfig:"ADDR" default:":8000"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
}

// LLMConfig holds the completion provider settings
type LLMConfig struct {
	Provider    string        `envconfig:"PROVIDER" default:"openai"`
	APIKey      string        `envconfig:"API_KEY"`
	BaseURL     string        `envconfig:"BASE_URL"`
	Model       string        `envconfig:"MODEL" default:"gemini-2.0-flash-exp"`
	Temperature float32       `envconfig:"TEMPERATURE" default:"0.7"`
	MaxTokens   int           `envconfig:"MAX_TOKENS" default:"1024"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"60s"`
}

// SessionConfig holds session registry settings
type SessionConfig struct {
	TimeoutMinutes int           `envconfig:"TIMEOUT_MINUTES" default:"30"`
	SweepInterval  time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
}

// Timeout returns the inactivity timeout as a duration
func (s SessionConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

type StoreConfig struct {
	Backend string `envconfig:"STORE" default:"memory"`
}

type RedisConfig struct {
	URL string `envconfig:"URL"`
}

type WorkflowConfig struct {
	Variant    string `envconfig:"VARIANT" default:"classifying"`
	RoutesFile string `envconfig:"ROUTES_FILE" default:"config.yaml"`
}

// Route describes one specialized strategy and how queries are classified into it
type Route struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
	Persona     string   `yaml:"persona"`
}

// RoutingConfig represents the workflow section of config.yaml
type RoutingConfig struct {
	FallbackResponse string `yaml:"fallback_response"`
	// ClassifierPrompt overrides the built-in classification instruction.
	// Placeholders: {query}, {categories}, {choices}.
	ClassifierPrompt string  `yaml:"classifier_prompt"`
	Routes           []Route `yaml:"routes"`
}

type routingFile struct {
	Workflow RoutingConfig `yaml:"workflow"`
}

const geographyPersona = `You are a geography expert focused specifically on country capitals.
Provide accurate, concise answers about country capitals, capital cities, and related geographic information.
If asked about anything not related to country capitals, politely redirect to that topic.`

// DefaultRouting returns the built-in geography routing
func DefaultRouting() RoutingConfig {
	return RoutingConfig{
		FallbackResponse: "I can only help with country capitals. Please ask about a country's capital city.",
		Routes: []Route{
			{
				Name:        string(pkg.CategoryGeography),
				Description: "questions about country capitals, cities, or countries",
				Keywords:    []string{"capital", "capitals", "city", "country", "countries", "nation", "nations"},
				Persona:     geographyPersona,
			},
		},
	}
}

// Load reads .env (if present), the environment and the routing file
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error loading %s: %w", envFile, err)
		}
	}

	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}

	routing, err := LoadRouting(config.Workflow.RoutesFile)
	if err != nil {
		return nil, err
	}
	config.Routing = *routing

	return &config, nil
}

// LoadRouting loads the workflow routing from a YAML file; a missing file yields DefaultRouting
func LoadRouting(path string) (*RoutingConfig, error) {
	routing := DefaultRouting()
	if path == "" {
		return &routing, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &routing, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var file routingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing YAML: %w", err)
	}

	if file.Workflow.FallbackResponse != "" {
		routing.FallbackResponse = file.Workflow.FallbackResponse
	}
	if file.Workflow.ClassifierPrompt != "" {
		routing.ClassifierPrompt = file.Workflow.ClassifierPrompt
	}
	if file.Workflow.Routes != nil {
		routing.Routes = file.Workflow.Routes
	}

	return &routing, nil
}

// Validate checks the configuration; every failure wraps pkg.ErrConfiguration
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderDeepSeek, ProviderArk:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("%w: LLM_API_KEY environment variable is required for provider %s", pkg.ErrConfiguration, c.LLM.Provider)
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("%w: unknown LLM provider %q", pkg.ErrConfiguration, c.LLM.Provider)
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("%w: LLM_MODEL must not be empty", pkg.ErrConfiguration)
	}

	if c.Session.TimeoutMinutes <= 0 {
		return fmt.Errorf("%w: SESSION_TIMEOUT_MINUTES must be positive", pkg.ErrConfiguration)
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("%w: REDIS_URL environment variable is required for the redis state store", pkg.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown state store %q", pkg.ErrConfiguration, c.Store.Backend)
	}

	switch c.Workflow.Variant {
	case VariantClassifying, VariantSimple:
	default:
		return fmt.Errorf("%w: unknown workflow variant %q", pkg.ErrConfiguration, c.Workflow.Variant)
	}

	return c.Routing.Validate()
}

// Validate checks route names are usable as categories and node names
func (r RoutingConfig) Validate() error {
	if strings.TrimSpace(r.FallbackResponse) == "" {
		return fmt.Errorf("%w: fallback_response must not be empty", pkg.ErrConfiguration)
	}

	seen := make(map[string]bool, len(r.Routes))
	for i, route := range r.Routes {
		name := strings.TrimSpace(route.Name)
		if name == "" {
			return fmt.Errorf("%w: route %d has no name", pkg.ErrConfiguration, i)
		}
		if name != strings.ToLower(name) || strings.ContainsAny(name, " \t\n") {
			return fmt.Errorf("%w: route name %q must be a lower-case single word", pkg.ErrConfiguration, name)
		}
		if name == string(pkg.CategoryOther) {
			return fmt.Errorf("%w: route name %q is reserved for the fallback", pkg.ErrConfiguration, name)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate route %q", pkg.ErrConfiguration, name)
		}
		seen[name] = true
	}
	return nil
}
