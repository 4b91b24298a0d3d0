// Package config provides configuration management for the proxy server.
// It handles loading and parsing the YAML configuration document and
// publishing it as a lock-free, read-copy-update snapshot so request-path
// readers never block on configuration writers.
package config

import "time"

// Config is the application's full configuration, loaded from a YAML file
// and hot-reloaded on change.
type Config struct {
	// Host is the address the HTTP server binds to.
	Host string `yaml:"host" json:"host"`
	// Port is the TCP port the HTTP server listens on.
	Port int `yaml:"port" json:"port"`

	// AuthDir is the directory holding credential/auth material on disk.
	AuthDir string `yaml:"auth-dir" json:"auth-dir"`
	// AdminToken authenticates the admin CRUD surface (C10).
	AdminToken string `yaml:"admin-token" json:"admin-token"`

	// ProxyURL is an optional outbound proxy used for upstream dispatch.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// LoggingToFile switches the logger between stdout and a rotating file.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`
	// LogsMaxTotalSizeMB bounds the total size of retained rotated logs.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb,omitempty" json:"logs-max-total-size-mb,omitempty"`

	// MaxRetries is the number of retries after the first attempt (spec C7).
	// Total attempts issued = MaxRetries + 1.
	MaxRetries int `yaml:"max-retries" json:"max-retries"`
	// ForbiddenThreshold is the count_403 value at which a credential retires
	// with reason Forbidden (spec invariant 4).
	ForbiddenThreshold int `yaml:"forbidden-threshold" json:"forbidden-threshold"`
	// PoolChannelCapacity is the bounded channel size backing each credential actor.
	PoolChannelCapacity int `yaml:"pool-channel-capacity" json:"pool-channel-capacity"`

	// Reconcile configures the background reconciler cadences (C9).
	Reconcile ReconcileConfig `yaml:"reconcile" json:"reconcile"`

	// Storage selects and configures the durable storage layer (C3).
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Streaming configures server-side streaming behavior.
	Streaming StreamingConfig `yaml:"streaming" json:"streaming"`

	// AntiTruncation configures the anti-truncation streaming engine (C8b).
	AntiTruncation AntiTruncationConfig `yaml:"anti-truncation" json:"anti-truncation"`

	// BetaDenialPhrases are substrings that mark a 4xx body as a feature-probe
	// denial rather than an ordinary auth failure (C6).
	BetaDenialPhrases []string `yaml:"beta-denial-phrases,omitempty" json:"beta-denial-phrases,omitempty"`
}

// ReconcileConfig holds the three independent reconciler tick cadences.
type ReconcileConfig struct {
	KeysInterval           time.Duration `yaml:"keys-interval" json:"keys-interval"`
	CookiesInterval        time.Duration `yaml:"cookies-interval" json:"cookies-interval"`
	ServiceAccountsInterval time.Duration `yaml:"service-accounts-interval" json:"service-accounts-interval"`
}

// StorageConfig selects the storage backend and its connection parameters.
type StorageConfig struct {
	// Mode is one of "file", "sqlite", "postgres".
	Mode string `yaml:"mode" json:"mode"`
	// ConfigPath is the on-disk config document used by file mode and as the
	// bootstrap/import-export target for every mode.
	ConfigPath string `yaml:"config-path" json:"config-path"`
	// DSN is the database connection string for sqlite/postgres modes.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`

	// ObjectMirror optionally mirrors export_to_file output to object storage.
	ObjectMirror *ObjectMirrorConfig `yaml:"object-mirror,omitempty" json:"object-mirror,omitempty"`
	// GitHistory optionally commits export_to_file snapshots to a local git repo.
	GitHistory *GitHistoryConfig `yaml:"git-history,omitempty" json:"git-history,omitempty"`
}

// ObjectMirrorConfig configures an S3-compatible export mirror (minio-go).
type ObjectMirrorConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access-key" json:"access-key"`
	SecretKey string `yaml:"secret-key" json:"secret-key"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
	ObjectKey string `yaml:"object-key" json:"object-key"`
}

// GitHistoryConfig configures a git-backed export history directory (go-git).
type GitHistoryConfig struct {
	RepoPath string `yaml:"repo-path" json:"repo-path"`
	FileName string `yaml:"file-name" json:"file-name"`
}

// StreamingConfig holds server streaming behavior configuration.
type StreamingConfig struct {
	// KeepAliveSeconds controls how often the server emits SSE heartbeats.
	// <= 0 disables keep-alives.
	KeepAliveSeconds int `yaml:"keepalive-seconds,omitempty" json:"keepalive-seconds,omitempty"`
}

// AntiTruncationConfig configures the completion-sentinel anti-truncation loop.
type AntiTruncationConfig struct {
	// Sentinel is the literal marker injected and watched for in the stream.
	Sentinel string `yaml:"sentinel" json:"sentinel"`
	// MaxAttempts bounds how many continuation requests may be issued.
	MaxAttempts int `yaml:"max-attempts" json:"max-attempts"`
	// ContinuationPrompt instructs the model to resume without repetition.
	ContinuationPrompt string `yaml:"continuation-prompt" json:"continuation-prompt"`
}

// Defaults returns a Config populated with the suggested spec defaults.
func Defaults() *Config {
	return &Config{
		Host:                "0.0.0.0",
		Port:                8317,
		AuthDir:             "auths",
		MaxRetries:          3,
		ForbiddenThreshold:  5,
		PoolChannelCapacity: 64,
		Reconcile: ReconcileConfig{
			KeysInterval:            30 * time.Second,
			CookiesInterval:         45 * time.Second,
			ServiceAccountsInterval: 60 * time.Second,
		},
		Storage: StorageConfig{
			Mode:       "file",
			ConfigPath: "config.yaml",
		},
		AntiTruncation: AntiTruncationConfig{
			Sentinel:           "[done]",
			MaxAttempts:        3,
			ContinuationPrompt: "Continue exactly where you left off, without repeating any previous text, and end your response with [done] once truly finished.",
		},
		BetaDenialPhrases: []string{
			"not enabled", "not available", "beta", "requires",
		},
	}
}
