// Package config handles configuration for the upload server,
// including defaults, JSON overlay, and command-line flags.
package config

import (
	"time"

	"github.com/dmitrijs2005/asyncupload/internal/common"
)

// Config holds runtime settings for the upload server.
//
// Fields:
//   - HTTPAddr / GRPCAddr: bind addresses for the upload endpoints and the form-save hook.
//   - UpstreamURL: administrative application that non-upload requests are proxied to.
//   - UploadPathPrefix: URL prefix of the upload and delete endpoints.
//   - ChunkDir / ChunkExpiry / JanitorInterval / MaxChunkSize: transient chunk storage.
//   - StorageBackend (fs|s3|gcs), StorageDir, StorageBaseURL, ArtifactPrefix: artifacts.
//   - S3RootUser / S3RootPassword / S3Bucket / S3Region / S3BaseEndpoint: S3-compatible backend.
//   - GCSBucket / GCSCredentialsFile: Google Cloud Storage backend.
//   - SessionBackend (memory|bolt|postgres|sqlite|redis), SessionDSN, SessionCookieName,
//     SessionTTL: orphan ledger persistence.
//   - Navigation: departure classifier rules; empty lists fall back to built-in defaults.
type Config struct {
	HTTPAddr           string
	GRPCAddr           string
	UpstreamURL        string
	UploadPathPrefix   string
	ChunkDir           string
	ChunkExpiry        time.Duration
	JanitorInterval    time.Duration
	MaxChunkSize       int64
	StorageBackend     string
	StorageDir         string
	StorageBaseURL     string
	ArtifactPrefix     string
	S3RootUser         string
	S3RootPassword     string
	S3Bucket           string
	S3Region           string
	S3BaseEndpoint     string
	GCSBucket          string
	GCSCredentialsFile string
	SessionBackend     string
	SessionDSN         string
	SessionCookieName  string
	SessionTTL         time.Duration
	LogLevel           string
	Navigation         NavigationRules
}

// NavigationRules are the configurable pattern lists of the departure classifier.
type NavigationRules struct {
	FormPathPatterns    []string
	UtilityPathPatterns []string
	PopupParams         []string
	AsyncHeaders        map[string]string
}

// LoadDefaults populates Config with development defaults: local filesystem for
// chunks and artifacts, in-memory ledger.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.GRPCAddr = ":50051"
	c.UpstreamURL = ""
	c.UploadPathPrefix = "/admin_resumable/"
	c.ChunkDir = "./data/chunks"
	c.ChunkExpiry = 24 * time.Hour
	c.JanitorInterval = 1 * time.Hour
	c.MaxChunkSize = 64 << 20
	c.StorageBackend = "fs"
	c.StorageDir = "./data/media"
	c.StorageBaseURL = "/media/"
	c.ArtifactPrefix = "admin_uploaded"
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "uploads"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.GCSBucket = ""
	c.GCSCredentialsFile = ""
	c.SessionBackend = "memory"
	c.SessionDSN = ""
	c.SessionCookieName = common.DefaultSessionCookieName
	c.SessionTTL = 14 * 24 * time.Hour
	c.LogLevel = "info"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
