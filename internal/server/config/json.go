package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/asyncupload/internal/flagx"
	"github.com/dmitrijs2005/asyncupload/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "24h" and integer nanoseconds are accepted.
//
// Only keys present in the file override the current values; absent keys keep
// whatever the defaults set.
type JsonConfig struct {
	HTTPAddr           *string              `json:"http_addr"`
	GRPCAddr           *string              `json:"grpc_addr"`
	UpstreamURL        *string              `json:"upstream_url"`
	UploadPathPrefix   *string              `json:"upload_path_prefix"`
	ChunkDir           *string              `json:"chunk_dir"`
	ChunkExpiry        *timex.Duration      `json:"chunk_expiry"`
	JanitorInterval    *timex.Duration      `json:"janitor_interval"`
	MaxChunkSize       *int64               `json:"max_chunk_size"`
	StorageBackend     *string              `json:"storage_backend"`
	StorageDir         *string              `json:"storage_dir"`
	StorageBaseURL     *string              `json:"storage_base_url"`
	ArtifactPrefix     *string              `json:"artifact_prefix"`
	S3RootUser         *string              `json:"s3_root_user"`
	S3RootPassword     *string              `json:"s3_root_password"`
	S3Bucket           *string              `json:"s3_bucket"`
	S3Region           *string              `json:"s3_region"`
	S3BaseEndpoint     *string              `json:"s3_base_endpoint"`
	GCSBucket          *string              `json:"gcs_bucket"`
	GCSCredentialsFile *string              `json:"gcs_credentials_file"`
	SessionBackend     *string              `json:"session_backend"`
	SessionDSN         *string              `json:"session_dsn"`
	SessionCookieName  *string              `json:"session_cookie_name"`
	SessionTTL         *timex.Duration      `json:"session_ttl"`
	LogLevel           *string              `json:"log_level"`
	Navigation         *JsonNavigationRules `json:"navigation"`
}

type JsonNavigationRules struct {
	FormPathPatterns    []string          `json:"form_path_patterns"`
	UtilityPathPatterns []string          `json:"utility_path_patterns"`
	PopupParams         []string          `json:"popup_params"`
	AsyncHeaders        map[string]string `json:"async_headers"`
}

// parseJson loads configuration values from the JSON file selected by -c,
// -config or $ASYNCUPLOAD_CONFIG into config. Without a file it does nothing.
// An unreadable file or invalid JSON panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.ConfigFile()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.UpstreamURL, c.UpstreamURL)
	setString(&config.UploadPathPrefix, c.UploadPathPrefix)
	setString(&config.ChunkDir, c.ChunkDir)
	if c.ChunkExpiry != nil {
		config.ChunkExpiry = c.ChunkExpiry.Duration
	}
	if c.JanitorInterval != nil {
		config.JanitorInterval = c.JanitorInterval.Duration
	}
	if c.MaxChunkSize != nil {
		config.MaxChunkSize = *c.MaxChunkSize
	}
	setString(&config.StorageBackend, c.StorageBackend)
	setString(&config.StorageDir, c.StorageDir)
	setString(&config.StorageBaseURL, c.StorageBaseURL)
	setString(&config.ArtifactPrefix, c.ArtifactPrefix)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.GCSBucket, c.GCSBucket)
	setString(&config.GCSCredentialsFile, c.GCSCredentialsFile)
	setString(&config.SessionBackend, c.SessionBackend)
	setString(&config.SessionDSN, c.SessionDSN)
	setString(&config.SessionCookieName, c.SessionCookieName)
	if c.SessionTTL != nil {
		config.SessionTTL = c.SessionTTL.Duration
	}
	setString(&config.LogLevel, c.LogLevel)

	if n := c.Navigation; n != nil {
		config.Navigation = NavigationRules{
			FormPathPatterns:    n.FormPathPatterns,
			UtilityPathPatterns: n.UtilityPathPatterns,
			PopupParams:         n.PopupParams,
			AsyncHeaders:        n.AsyncHeaders,
		}
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
