package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/adpipe/internal/flagx"
	"github.com/dmitrijs2005/adpipe/internal/models"
)

var configFlags = []string{
	"-graph-url", "-graph-version", "-token", "-app-secret", "-account", "-page", "-ig-actor", "-dry-run",
	"-d", "-redis", "-idem-ttl", "-idem-bucket",
	"-media-root", "-media-cache", "-media-cache-max-age",
	"-s3-bucket", "-s3-prefix", "-s3-region", "-s3-endpoint", "-s3-access-key", "-s3-secret-key", "-s3-path-style",
	"-chunk-threshold", "-request-timeout", "-max-attempts", "-batch-size", "-batch-delay",
	"-start-finish-timeout", "-transfer-timeout", "-adset-mode", "-log-level",
}

var boolFlags = []string{"-dry-run", "-s3-path-style"}

// parseFlags populates Config from the flags in args it owns:
//
//	-graph-url, -graph-version   Graph API endpoint
//	-token, -app-secret          credentials
//	-account, -page, -ig-actor   ad account, page and instagram actor ids
//	-dry-run                     validate mutations without applying them
//	-d                           PostgreSQL DSN
//	-redis                       Redis URL for the provisioning guard
//	-idem-ttl, -idem-bucket      guard key lifetime and time bucket
//	-media-root                  directory for local media keys
//	-media-cache                 SQLite media cache path
//	-s3-*                        object storage settings
//	-chunk-threshold             size in bytes above which videos are chunked
//	-adset-mode                  create or pool
func parseFlags(cfg *Config, args []string) error {
	filtered := flagx.FilterArgs(args, configFlags, boolFlags...)

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.GraphBaseURL, "graph-url", cfg.GraphBaseURL, "Graph API base URL")
	fs.StringVar(&cfg.GraphVersion, "graph-version", cfg.GraphVersion, "Graph API version")
	fs.StringVar(&cfg.AccessToken, "token", cfg.AccessToken, "access token")
	fs.StringVar(&cfg.AppSecret, "app-secret", cfg.AppSecret, "app secret for appsecret_proof")
	fs.StringVar(&cfg.AdAccountID, "account", cfg.AdAccountID, "ad account id")
	fs.StringVar(&cfg.PageID, "page", cfg.PageID, "page id")
	fs.StringVar(&cfg.InstagramActorID, "ig-actor", cfg.InstagramActorID, "instagram actor id")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "validate mutations only")

	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	fs.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "redis URL")
	fs.DurationVar(&cfg.IdempotencyTTL, "idem-ttl", cfg.IdempotencyTTL, "operation key lifetime")
	fs.DurationVar(&cfg.IdempotencyBucket, "idem-bucket", cfg.IdempotencyBucket, "operation key time bucket")

	fs.StringVar(&cfg.MediaRoot, "media-root", cfg.MediaRoot, "directory for local media keys")
	fs.StringVar(&cfg.MediaCachePath, "media-cache", cfg.MediaCachePath, "media cache database")
	fs.DurationVar(&cfg.MediaCacheMaxAge, "media-cache-max-age", cfg.MediaCacheMaxAge, "media cache entry lifetime")

	fs.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3Prefix, "s3-prefix", cfg.S3Prefix, "S3 key prefix")
	fs.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "S3 endpoint")
	fs.StringVar(&cfg.S3AccessKey, "s3-access-key", cfg.S3AccessKey, "S3 access key")
	fs.StringVar(&cfg.S3SecretKey, "s3-secret-key", cfg.S3SecretKey, "S3 secret key")
	fs.BoolVar(&cfg.S3PathStyle, "s3-path-style", cfg.S3PathStyle, "use path-style S3 addressing")

	fs.Int64Var(&cfg.ChunkedThreshold, "chunk-threshold", cfg.ChunkedThreshold, "chunked upload threshold in bytes")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "per-attempt request timeout")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "attempts per remote call")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "requests per batch call")
	fs.DurationVar(&cfg.BatchDelay, "batch-delay", cfg.BatchDelay, "delay between batch calls")
	fs.DurationVar(&cfg.StartFinishTimeout, "start-finish-timeout", cfg.StartFinishTimeout, "upload start/finish timeout")
	fs.DurationVar(&cfg.TransferTimeout, "transfer-timeout", cfg.TransferTimeout, "upload transfer timeout")

	adSetMode := fs.String("adset-mode", string(cfg.AdSetMode), "ad set mode: create or pool")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")

	if err := fs.Parse(filtered); err != nil {
		return err
	}
	cfg.AdSetMode = models.AdSetMode(*adSetMode)
	return nil
}
