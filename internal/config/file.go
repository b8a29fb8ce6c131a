package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/adpipe/internal/flagx"
	"github.com/dmitrijs2005/adpipe/internal/models"
	"github.com/dmitrijs2005/adpipe/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk form of Config. Pointer fields distinguish
// absent settings from zero values.
type FileConfig struct {
	GraphBaseURL     string `json:"graph_base_url" yaml:"graph_base_url"`
	GraphVersion     string `json:"graph_version" yaml:"graph_version"`
	AccessToken      string `json:"access_token" yaml:"access_token"`
	AppSecret        string `json:"app_secret" yaml:"app_secret"`
	AdAccountID      string `json:"ad_account_id" yaml:"ad_account_id"`
	PageID           string `json:"page_id" yaml:"page_id"`
	InstagramActorID string `json:"instagram_actor_id" yaml:"instagram_actor_id"`
	DryRun           *bool  `json:"dry_run" yaml:"dry_run"`

	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn"`

	RedisURL          string          `json:"redis_url" yaml:"redis_url"`
	IdempotencyTTL    *timex.Duration `json:"idempotency_ttl" yaml:"idempotency_ttl"`
	IdempotencyBucket *timex.Duration `json:"idempotency_bucket" yaml:"idempotency_bucket"`

	MediaRoot        string          `json:"media_root" yaml:"media_root"`
	MediaCachePath   string          `json:"media_cache_path" yaml:"media_cache_path"`
	MediaCacheMaxAge *timex.Duration `json:"media_cache_max_age" yaml:"media_cache_max_age"`

	S3Bucket    string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Prefix    string `json:"s3_prefix" yaml:"s3_prefix"`
	S3Region    string `json:"s3_region" yaml:"s3_region"`
	S3Endpoint  string `json:"s3_endpoint" yaml:"s3_endpoint"`
	S3AccessKey string `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key" yaml:"s3_secret_key"`
	S3PathStyle *bool  `json:"s3_path_style" yaml:"s3_path_style"`

	ChunkedThreshold   *int64          `json:"chunked_threshold" yaml:"chunked_threshold"`
	RequestTimeout     *timex.Duration `json:"request_timeout" yaml:"request_timeout"`
	MaxAttempts        *int            `json:"max_attempts" yaml:"max_attempts"`
	BatchSize          *int            `json:"batch_size" yaml:"batch_size"`
	BatchDelay         *timex.Duration `json:"batch_delay" yaml:"batch_delay"`
	StartFinishTimeout *timex.Duration `json:"start_finish_timeout" yaml:"start_finish_timeout"`
	TransferTimeout    *timex.Duration `json:"transfer_timeout" yaml:"transfer_timeout"`

	AdSetMode string `json:"adset_mode" yaml:"adset_mode"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
}

// parseFile overlays cfg with the file named by -c/-config, if any.
func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

func (fc *FileConfig) apply(cfg *Config) {
	setString(&cfg.GraphBaseURL, fc.GraphBaseURL)
	setString(&cfg.GraphVersion, fc.GraphVersion)
	setString(&cfg.AccessToken, fc.AccessToken)
	setString(&cfg.AppSecret, fc.AppSecret)
	setString(&cfg.AdAccountID, fc.AdAccountID)
	setString(&cfg.PageID, fc.PageID)
	setString(&cfg.InstagramActorID, fc.InstagramActorID)
	setPtr(&cfg.DryRun, fc.DryRun)

	setString(&cfg.DatabaseDSN, fc.DatabaseDSN)

	setString(&cfg.RedisURL, fc.RedisURL)
	setDuration(&cfg.IdempotencyTTL, fc.IdempotencyTTL)
	setDuration(&cfg.IdempotencyBucket, fc.IdempotencyBucket)

	setString(&cfg.MediaRoot, fc.MediaRoot)
	setString(&cfg.MediaCachePath, fc.MediaCachePath)
	setDuration(&cfg.MediaCacheMaxAge, fc.MediaCacheMaxAge)

	setString(&cfg.S3Bucket, fc.S3Bucket)
	setString(&cfg.S3Prefix, fc.S3Prefix)
	setString(&cfg.S3Region, fc.S3Region)
	setString(&cfg.S3Endpoint, fc.S3Endpoint)
	setString(&cfg.S3AccessKey, fc.S3AccessKey)
	setString(&cfg.S3SecretKey, fc.S3SecretKey)
	setPtr(&cfg.S3PathStyle, fc.S3PathStyle)

	setPtr(&cfg.ChunkedThreshold, fc.ChunkedThreshold)
	setDuration(&cfg.RequestTimeout, fc.RequestTimeout)
	setPtr(&cfg.MaxAttempts, fc.MaxAttempts)
	setPtr(&cfg.BatchSize, fc.BatchSize)
	setDuration(&cfg.BatchDelay, fc.BatchDelay)
	setDuration(&cfg.StartFinishTimeout, fc.StartFinishTimeout)
	setDuration(&cfg.TransferTimeout, fc.TransferTimeout)

	if fc.AdSetMode != "" {
		cfg.AdSetMode = models.AdSetMode(fc.AdSetMode)
	}
	setString(&cfg.LogLevel, fc.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPtr[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
