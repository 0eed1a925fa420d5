package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

// Config holds all configuration options
type Config struct {
	// Server config
	Port         string        `long:"port" env:"PORT" default:"8080" description:"Server port"`
	Issuer       string        `long:"issuer" env:"ISSUER" default:"http://localhost:8080" description:"Issuer URL placed in ID tokens"`
	SigningKey   string        `long:"signing-key" env:"SIGNING_KEY" description:"HS256 key for ID tokens (ephemeral when empty)"`
	AdminRole    string        `long:"admin-role" env:"ADMIN_ROLE" default:"ADMIN" description:"Role allowed to revoke tokens and see raw token values"`
	SessionTTL   time.Duration `long:"session-ttl" env:"SESSION_TTL" default:"8h" description:"Login session lifetime"`
	PrintClients bool          `long:"print-clients" env:"PRINT_CLIENTS" description:"Print the registered clients table at startup"`
	HashPassword string        `long:"hash-password" description:"Print the {bcrypt} encoding of a password for the user or client source and exit"`

	// Declarative sources
	ClientsPath string `long:"clients" env:"CLIENTS_PATH" default:"clients.yaml" description:"Registered client source"`
	UsersPath   string `long:"users" env:"USERS_PATH" default:"users.yaml" description:"User source"`

	// Logging
	LogLevel  string `long:"log-level" env:"LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	LogFormat string `long:"log-format" env:"LOG_FORMAT" default:"text" choice:"text" choice:"json" description:"Log output format"`

	// Storage config
	SessionMode string `long:"session-mode" env:"SESSION_MODE" default:"memory" choice:"memory" choice:"redis" description:"Login session storage backend"`

	// S3 source tier
	S3 struct {
		Enabled   bool   `long:"s3-enabled" env:"S3_ENABLED" description:"Look up sources in S3 before the bundled defaults"`
		Endpoint  string `long:"s3-endpoint" env:"S3_ENDPOINT" default:"localhost:9000" description:"S3 endpoint (host:port)"`
		Bucket    string `long:"s3-bucket" env:"S3_BUCKET" default:"authsessions" description:"S3 bucket name"`
		Prefix    string `long:"s3-prefix" env:"S3_PREFIX" description:"Key prefix for source objects"`
		AccessKey string `long:"s3-access-key" env:"S3_ACCESS_KEY" default:"minioadmin" description:"S3 access key"`
		SecretKey string `long:"s3-secret-key" env:"S3_SECRET_KEY" default:"minioadmin" description:"S3 secret key"`
		UseSSL    bool   `long:"s3-use-ssl" env:"S3_USE_SSL" description:"Use SSL for S3 connections"`
	} `group:"S3 Source Options"`

	// Redis config
	Redis struct {
		Addr      string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address"`
		Password  string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
		DB        int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`
		KeyPrefix string `long:"redis-key-prefix" env:"REDIS_KEY_PREFIX" default:"authsessions:" description:"Prefix for every Redis key"`
	} `group:"Redis Options"`
}

// LoadConfig parses configuration from environment variables and command line flags
func LoadConfig(args []string) (*Config, error) {
	var config Config

	parser := flags.NewParser(&config, flags.Default)
	parser.Usage = "[OPTIONS]"

	if _, err := parser.ParseArgs(args); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// NewLogger builds the process logger from the logging options
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
