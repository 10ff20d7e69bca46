package config

import "time"

// SiraChat definition sirachat_service YAML structure
type SiraChat struct {
	Port       string        `mapstructure:"port"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`

	MongoSQL DatabaseConfig `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Chat     ChatConfig     `mapstructure:"chat"`
}

// ChatConfig definition chat session tunables
type ChatConfig struct {
	// TypingStale entries older than this are treated as not typing
	TypingStale time.Duration `mapstructure:"typing_stale"`
	// TypingDebounce trailing debounce for typing publishes
	TypingDebounce time.Duration `mapstructure:"typing_debounce"`
	// TypingIdle no-key timer that flips isTyping back to false
	TypingIdle time.Duration `mapstructure:"typing_idle"`
	// MaxMessageLen composer hard cap on message text
	MaxMessageLen int `mapstructure:"max_message_len"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	Addr    string `mapstructure:"addr"`
	RedisDB int    `mapstructure:"redis_db"`
}

// MinIOConfig definition minio setting
type MinIOConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Bucket        string `mapstructure:"bucket"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// Defaults fill zero-valued chat tunables with the recommended values
func (c *ChatConfig) Defaults() {
	if c.TypingStale == 0 {
		c.TypingStale = 5 * time.Second
	}
	if c.TypingDebounce == 0 {
		c.TypingDebounce = 300 * time.Millisecond
	}
	if c.TypingIdle == 0 {
		c.TypingIdle = 2 * time.Second
	}
	if c.MaxMessageLen == 0 {
		c.MaxMessageLen = 2000
	}
}
