package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/asyncupload/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-r string   gRPC bind address of the form-save hook (e.g., ":50051")
//	-x string   upstream admin application URL
//	-k string   chunk directory
//	-s string   artifact storage backend: fs, s3, gcs
//	-m string   artifact directory (fs backend)
//	-b string   bucket name (s3 and gcs backends)
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-u string   S3 root user
//	-p string   S3 root password
//	-t string   session backend: memory, bolt, postgres, sqlite, redis
//	-d string   session backend DSN (file path, database DSN or redis URL)
//	-l string   log level
//
// os.Args is first filtered with flagx.FilterArgs so the -c/-config flag and
// flags of other components do not collide with this set.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-r", "-x", "-k", "-s", "-m", "-b", "-g", "-e", "-u", "-p", "-t", "-d", "-l",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port of the HTTP server")
	fs.StringVar(&config.GRPCAddr, "r", config.GRPCAddr, "address and port of the gRPC hook server")
	fs.StringVar(&config.UpstreamURL, "x", config.UpstreamURL, "upstream admin application URL")
	fs.StringVar(&config.ChunkDir, "k", config.ChunkDir, "chunk directory")
	fs.StringVar(&config.StorageBackend, "s", config.StorageBackend, "artifact storage backend (fs|s3|gcs)")
	fs.StringVar(&config.StorageDir, "m", config.StorageDir, "artifact directory for the fs backend")

	bucket := fs.String("b", "", "bucket for the s3 or gcs backend")

	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.SessionBackend, "t", config.SessionBackend, "session backend (memory|bolt|postgres|sqlite|redis)")
	fs.StringVar(&config.SessionDSN, "d", config.SessionDSN, "session backend DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	if *bucket != "" {
		if config.StorageBackend == "gcs" {
			config.GCSBucket = *bucket
		} else {
			config.S3Bucket = *bucket
		}
	}
}
