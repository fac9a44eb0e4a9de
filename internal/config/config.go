package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                    string
	Version                 string
	LlamaBaseURL            string
	ProviderShape           string
	ChainsFile              string
	RedisURL                string
	CacheTTL                time.Duration
	ResponseCacheTTL        time.Duration
	// ResponseCacheMaxEntries bounds the in-memory response cache.
	ResponseCacheMaxEntries int
	RefreshTimeout          time.Duration
	RequestTimeout          time.Duration
	ReadPolicy              string
	CircuitFailLimit        int
	CircuitCooldown         time.Duration
	LogLevel                string
	Chains                  Chains
}

func Load() (Config, error) {
	cfg := Config{
		Port:                    getEnv("PORT", "8080"),
		Version:                 getEnv("SERVICE_VERSION", "dev"),
		LlamaBaseURL:            getEnv("LLAMA_BASE_URL", "https://yields.llama.fi"),
		ProviderShape:           strings.ToLower(getEnv("PROVIDER_SHAPE", "lendborrow")),
		ChainsFile:              getEnv("CHAINS_FILE", ""),
		RedisURL:                getEnv("REDIS_URL", "redis://localhost:6379"),
		CacheTTL:                getEnvDuration("CACHE_TTL", 5*time.Minute),
		ResponseCacheTTL:        getEnvDuration("RESPONSE_CACHE_TTL", 60*time.Second),
		RefreshTimeout:          getEnvDuration("REFRESH_TIMEOUT", 30*time.Second),
		ResponseCacheMaxEntries: getEnvInt("RESPONSE_CACHE_MAX_ENTRIES", 1024),
		RequestTimeout:          getEnvDuration("REQUEST_TIMEOUT", 15*time.Second),
		ReadPolicy:              strings.ToLower(getEnv("CACHE_READ_POLICY", "block")),
		CircuitFailLimit:        getEnvInt("CIRCUIT_FAIL_LIMIT", 3),
		CircuitCooldown:         getEnvDuration("CIRCUIT_COOLDOWN", 30*time.Second),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		Chains:                  DefaultChains(),
	}
	if cfg.ChainsFile != "" {
		chains, err := LoadChains(cfg.ChainsFile)
		if err != nil {
			return cfg, err
		}
		cfg.Chains = chains
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// getEnvDuration reads a whole number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return def
	}
	return time.Duration(i) * time.Second
}
