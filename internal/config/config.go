package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override, e.g. PROCTOR_REDIS_ADDR.
const EnvPrefix = "PROCTOR_"

type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Postgres  PostgresConfig  `yaml:"postgres" envPrefix:"POSTGRES_"`
	Questions QuestionsConfig `yaml:"questions" envPrefix:"QUESTIONS_"`
	Judge     JudgeConfig     `yaml:"judge" envPrefix:"JUDGE_"`
	History   HistoryConfig   `yaml:"history" envPrefix:"HISTORY_"`
	Auth      AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	Engine    EngineConfig    `yaml:"engine" envPrefix:"ENGINE_"`
}

type ServerConfig struct {
	Port string `yaml:"port" env:"PORT"`
	// AllowedOrigins restricts websocket origins. Empty allows all.
	AllowedOrigins []string `yaml:"allowedOrigins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	// File additionally writes JSON lines to a size-rotated file.
	File string `yaml:"file" env:"FILE"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	TTL      string `yaml:"ttl" env:"TTL"`
}

type PostgresConfig struct {
	URL string `yaml:"url" env:"URL"`
}

type QuestionsConfig struct {
	TTL          string `yaml:"ttl" env:"TTL"`
	GeneratorURL string `yaml:"generatorUrl" env:"GENERATOR_URL"`
}

type JudgeConfig struct {
	URL     string `yaml:"url" env:"URL"`
	Timeout string `yaml:"timeout" env:"TIMEOUT"`
}

type HistoryConfig struct {
	URL     string `yaml:"url" env:"URL"`
	Timeout string `yaml:"timeout" env:"TIMEOUT"`
}

type AuthConfig struct {
	// Token is the bearer token sent to the judge and history services.
	Token string `yaml:"token" env:"TOKEN"`
	// JWTSecret verifies candidate tokens on the websocket. Empty disables verification.
	JWTSecret string `yaml:"jwtSecret" env:"JWT_SECRET"`
}

type EngineConfig struct {
	MCQBudget       string   `yaml:"mcqBudget" env:"MCQ_BUDGET"`
	CodingBudget    string   `yaml:"codingBudget" env:"CODING_BUDGET"`
	InterviewBudget string   `yaml:"interviewBudget" env:"INTERVIEW_BUDGET"`
	QuestionLimit   string   `yaml:"questionLimit" env:"QUESTION_LIMIT"`
	AckDuration     string   `yaml:"ackDuration" env:"ACK_DURATION"`
	CodingScoring   string   `yaml:"codingScoring" env:"CODING_SCORING"`
	Languages       []string `yaml:"languages" env:"LANGUAGES" envSeparator:","`
	QuestionCount   int      `yaml:"questionCount" env:"QUESTION_COUNT"`
	// RunsPerMinute throttles judge runs per connection.
	RunsPerMinute int `yaml:"runsPerMinute" env:"RUNS_PER_MINUTE"`
}

// Load reads YAML config from path, then applies .env and PROCTOR_* environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg. A .env file in the working directory is
// loaded first when present.
func ApplyEnv(cfg *Config) error {
	_ = godotenv.Load()
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
