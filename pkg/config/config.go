// Package config loads per-service configuration from environment variables,
// one Load function per service binary, each field falling back to a
// hardcoded default when its variable is unset or unparseable.
package config

import (
	"os"
	"strconv"
	"time"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getenvSeconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}

// EnforcerConfig configures the policy enforcement gateway binary (C3, C5,
// C6, C7, C8 wiring).
type EnforcerConfig struct {
	Host               string
	Port               string
	BundlesDir         string
	DataDir            string
	EnableHotReload    bool
	ReloadInterval     time.Duration
	UpstreamURL        string
	ForwardAuthHeader  bool
	MaxBodyBytes       int64
	PipelineTimeout    time.Duration
	QuotaServiceURL    string
	AuditServiceURL    string
	JWTAlgorithm       string
	JWTSigningKey      string
	JWTIssuer          string
	JWTAudience        string
	MTLSEnabled        bool
	MQTTWildcardsOK    bool
	DecisionBusBacklog int
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
}

// LoadEnforcer reads ENFORCER_HOST/PORT, BUNDLES_DIR, ENABLE_HOT_RELOAD,
// RELOAD_INTERVAL_SECS and related gateway settings.
func LoadEnforcer() *EnforcerConfig {
	return &EnforcerConfig{
		Host:               getenv("ENFORCER_HOST", "0.0.0.0"),
		Port:               getenv("ENFORCER_PORT", "8443"),
		BundlesDir:         getenv("BUNDLES_DIR", "./bundles"),
		DataDir:            getenv("ENFORCER_DATA_DIR", "./enforcer-data"),
		EnableHotReload:    getenvBool("ENABLE_HOT_RELOAD", true),
		ReloadInterval:     getenvSeconds("RELOAD_INTERVAL_SECS", 2*time.Second),
		UpstreamURL:        getenv("UPSTREAM_URL", ""),
		ForwardAuthHeader:  getenvBool("FORWARD_AUTH_HEADER", false),
		MaxBodyBytes:       getenvInt64("MAX_BODY_BYTES", 10<<20),
		PipelineTimeout:    getenvSeconds("PIPELINE_TIMEOUT_SECS", 30*time.Second),
		QuotaServiceURL:    getenv("QUOTA_SERVICE_URL", ""),
		AuditServiceURL:    getenv("AUDIT_SERVICE_URL", ""),
		JWTAlgorithm:       getenv("JWT_ALGORITHM", ""),
		JWTSigningKey:      getenv("JWT_SIGNING_KEY", ""),
		JWTIssuer:          getenv("JWT_ISSUER", ""),
		JWTAudience:        getenv("JWT_AUDIENCE", ""),
		MTLSEnabled:        getenvBool("MTLS_ENABLED", false),
		MQTTWildcardsOK:    getenvBool("MQTT_ALLOW_WILDCARDS", true),
		DecisionBusBacklog: getenvInt("DECISION_BUS_BACKLOG", 64),
		RedisAddr:          getenv("REDIS_ADDR", ""),
		RedisPassword:      getenv("REDIS_PASSWORD", ""),
		RedisDB:            getenvInt("REDIS_DB", 0),
	}
}

// AuditConfig configures the audit log signer and deferred uploader (C10).
type AuditConfig struct {
	Host                 string
	Port                 string
	DataDir              string
	HMACSecret           string
	EnableDeferredUpload bool
	UploadBatchSize      int
	UploadInterval       time.Duration
	UploadEndpoint       string
	MaxLogAgeDays        int
}

// LoadAudit reads AUDIT_HOST/PORT, AUDIT_DATA_DIR, AUDIT_HMAC_SECRET and the
// deferred-upload settings.
func LoadAudit() *AuditConfig {
	return &AuditConfig{
		Host:                 getenv("AUDIT_HOST", "0.0.0.0"),
		Port:                 getenv("AUDIT_PORT", "8444"),
		DataDir:              getenv("AUDIT_DATA_DIR", "./audit-data"),
		HMACSecret:           getenv("AUDIT_HMAC_SECRET", ""),
		EnableDeferredUpload: getenvBool("ENABLE_DEFERRED_UPLOAD", false),
		UploadBatchSize:      getenvInt("UPLOAD_BATCH_SIZE", 100),
		UploadInterval:       getenvSeconds("UPLOAD_INTERVAL_SECS", 60*time.Second),
		UploadEndpoint:       getenv("UPLOAD_ENDPOINT", ""),
		MaxLogAgeDays:        getenvInt("MAX_LOG_AGE_DAYS", 90),
	}
}

// QuotaConfig configures the quota tracker service (C9).
type QuotaConfig struct {
	Host                string
	Port                string
	DataDir             string
	PersistenceInterval time.Duration
	DefaultMessageLimit int64
	DefaultBandwidthGB  float64
	EnableAutoReset     bool
}

// LoadQuota reads QUOTA_HOST/PORT, QUOTA_DATA_DIR, PERSISTENCE_INTERVAL_SECS,
// DEFAULT_MESSAGE_LIMIT, DEFAULT_BANDWIDTH_LIMIT_GB, ENABLE_AUTO_RESET.
func LoadQuota() *QuotaConfig {
	return &QuotaConfig{
		Host:                getenv("QUOTA_HOST", "0.0.0.0"),
		Port:                getenv("QUOTA_PORT", "8445"),
		DataDir:             getenv("QUOTA_DATA_DIR", "./quota-data"),
		PersistenceInterval: getenvSeconds("PERSISTENCE_INTERVAL_SECS", 30*time.Second),
		DefaultMessageLimit: getenvInt64("DEFAULT_MESSAGE_LIMIT", 0),
		DefaultBandwidthGB:  parseFloat(getenv("DEFAULT_BANDWIDTH_LIMIT_GB", "0")),
		EnableAutoReset:     getenvBool("ENABLE_AUTO_RESET", true),
	}
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
