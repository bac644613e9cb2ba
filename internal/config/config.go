package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// DBConfig holds the database connection parameters.
type DBConfig struct {
	Type     string `json:"type"`
	Host     string `json:"host"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Port     int    `json:"port"`
	SSLMode  string `json:"sslmode"`
	TimeZone string `json:"timezone"`
}

// LoggerConfig holds the logging configuration.
type LoggerConfig struct {
	Level      string `json:"level"`  // e.g., "debug", "info", "warn", "error"
	Format     string `json:"format"` // "json" or "text"
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // megabytes
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
	TSSLevel   string `json:"tss_level"` // verbosity of the tss-lib logger
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr string `json:"listen_addr"`
	Mode       string `json:"mode"` // gin mode: "debug", "release", "test"
}

// KMSConfig holds the AWS KMS settings used for data keys.
type KMSConfig struct {
	Region          string `json:"region"`
	KeyID           string `json:"key_id"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
}

// VaultConfig holds the Vault KV v2 settings used for key custody.
type VaultConfig struct {
	Address   string `json:"address"`
	Token     string `json:"token"`
	Mount     string `json:"mount"`
	Namespace string `json:"namespace"`
}

// KeyServiceConfig selects where data keys come from and where shares are kept.
type KeyServiceConfig struct {
	DataKeys  string      `json:"data_keys"` // "local" or "kms"
	KeyStore  string      `json:"key_store"` // "local", "vault" or "db"
	MasterKey string      `json:"master_key"` // hex, local data keys only
	KMS       KMSConfig   `json:"kms"`
	Vault     VaultConfig `json:"vault"`
}

// ProtocolConfig tunes the round engines.
type ProtocolConfig struct {
	PaillierBits    int  `json:"paillier_bits"`
	RecoveryEnabled bool `json:"recovery_enabled"`
}

// Config holds the application's configuration values.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DBConfig         `json:"database"`
	Logger     LoggerConfig     `json:"logger"`
	KeyService KeyServiceConfig `json:"key_service"`
	Protocol   ProtocolConfig   `json:"protocol"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{ListenAddr: ":8080", Mode: "release"},
		Logger: LoggerConfig{Level: "info", Format: "text", MaxSize: 100, MaxBackups: 3, MaxAge: 28, TSSLevel: "error"},
		KeyService: KeyServiceConfig{
			DataKeys: "local",
			KeyStore: "local",
			Vault:    VaultConfig{Mount: "secret"},
		},
		Protocol: ProtocolConfig{PaillierBits: 2048},
	}
}

// LoadConfig reads the configuration from a file and returns a Config struct.
// Fields missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	config := Default()
	err = decoder.Decode(config)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.KeyService.DataKeys {
	case "local":
		if c.KeyService.MasterKey == "" {
			return fmt.Errorf("key_service.master_key is required for local data keys")
		}
	case "kms":
		if c.KeyService.KMS.KeyID == "" || c.KeyService.KMS.Region == "" {
			return fmt.Errorf("key_service.kms needs region and key_id")
		}
	default:
		return fmt.Errorf("unknown key_service.data_keys %q", c.KeyService.DataKeys)
	}
	switch c.KeyService.KeyStore {
	case "local", "db":
	case "vault":
		if c.KeyService.Vault.Address == "" {
			return fmt.Errorf("key_service.vault.address is required")
		}
	default:
		return fmt.Errorf("unknown key_service.key_store %q", c.KeyService.KeyStore)
	}
	if c.Protocol.PaillierBits != 0 && c.Protocol.PaillierBits < 2048 {
		return fmt.Errorf("protocol.paillier_bits must be at least 2048")
	}
	return nil
}
