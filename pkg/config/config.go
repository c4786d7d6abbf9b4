package config

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Exports   ExportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig tunes the duty allocation engine.
type SchedulerConfig struct {
	// DutyDays lists the days of week (0=Sunday..6=Saturday) that carry duty slots.
	DutyDays []int
	// MinCoverage is the fraction of eligible students that must be placeable
	// before generation starts; 1.0 means every student gets at least one slot.
	MinCoverage float64
	// AssignmentsPerStudent caps how many weekly slots a single student may hold.
	AssignmentsPerStudent int
	// CacheTTL bounds how long schedule read models stay cached.
	CacheTTL time.Duration
	// CacheEnabled toggles the redis-backed schedule cache.
	CacheEnabled bool
}

// ExportsConfig governs roster export rendering.
type ExportsConfig struct {
	Enabled bool
	Title   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduler = SchedulerConfig{
		DutyDays:              parseDays(v.GetString("SCHEDULER_DUTY_DAYS")),
		MinCoverage:           v.GetFloat64("SCHEDULER_MIN_COVERAGE"),
		AssignmentsPerStudent: v.GetInt("SCHEDULER_ASSIGNMENTS_PER_STUDENT"),
		CacheTTL:              parseDuration(v.GetString("SCHEDULER_CACHE_TTL"), 5*time.Minute),
		CacheEnabled:          v.GetBool("SCHEDULER_CACHE_ENABLED"),
	}
	if cfg.Scheduler.MinCoverage <= 0 || cfg.Scheduler.MinCoverage > 1 {
		cfg.Scheduler.MinCoverage = 1.0
	}
	if cfg.Scheduler.AssignmentsPerStudent < 1 {
		cfg.Scheduler.AssignmentsPerStudent = 1
	}

	cfg.Exports = ExportsConfig{
		Enabled: v.GetBool("ENABLE_EXPORTS"),
		Title:   v.GetString("EXPORT_TITLE"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "library_duty")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "library-duty-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULER_DUTY_DAYS", "1,2,3,4,5")
	v.SetDefault("SCHEDULER_MIN_COVERAGE", 1.0)
	v.SetDefault("SCHEDULER_ASSIGNMENTS_PER_STUDENT", 1)
	v.SetDefault("SCHEDULER_CACHE_TTL", "5m")
	v.SetDefault("SCHEDULER_CACHE_ENABLED", false)

	v.SetDefault("ENABLE_EXPORTS", true)
	v.SetDefault("EXPORT_TITLE", "Library Duty Roster")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// parseDays converts a comma-separated day list into unique, ascending
// day-of-week values. Invalid entries are skipped; an empty result falls back
// to Monday through Friday.
func parseDays(raw string) []int {
	seen := make(map[int]struct{})
	var days []int
	for _, part := range splitAndTrim(raw) {
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 || d > 6 {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	if len(days) == 0 {
		return []int{1, 2, 3, 4, 5}
	}
	sort.Ints(days)
	return days
}
