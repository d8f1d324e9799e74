// Package config reads the upload processor's environment once at cold start.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fpang/photo-contest/internal/media"
)

// Environment variable names.
const (
	EnvMediaBucket         = "MEDIA_BUCKET_NAME"
	EnvSubmissionTable     = "SUBMISSION_TABLE_NAME"
	EnvParticipantTable    = "PARTICIPANT_TABLE_NAME"
	EnvEventBus            = "EVENT_BUS_NAME"
	EnvDBClusterARN        = "DB_CLUSTER_ARN"
	EnvDBSecretARN         = "DB_SECRET_ARN"
	EnvSSMDBSecretARNParam = "SSM_DB_SECRET_ARN_PARAM"
	EnvDBName              = "DB_NAME"
	EnvThumbnailWidth      = "THUMBNAIL_WIDTH"
	EnvRequiredSlotCount   = "REQUIRED_SLOT_COUNT"
	EnvFinalizeMaxRetries  = "FINALIZE_MAX_RETRIES"
	EnvFinalizeBaseDelayMS = "FINALIZE_BASE_DELAY_MS"
	EnvMessageConcurrency  = "MESSAGE_CONCURRENCY"
	EnvItemConcurrency     = "ITEM_CONCURRENCY"
)

const (
	defaultDBName          = "contest"
	defaultRequiredSlots   = 1
	defaultFinalizeRetries = 3
	defaultFinalizeBaseMS  = 400
	defaultMessageWorkers  = 3
	defaultItemWorkers     = 2
)

// Config is the resolved process configuration.
type Config struct {
	MediaBucket      string
	SubmissionTable  string
	ParticipantTable string
	// EventBus is empty for the account's default bus.
	EventBus     string
	DBClusterARN string
	// DBSecretARN may be empty when SSMDBSecretARNParam names an SSM
	// parameter holding it; lambdaboot resolves it at boot.
	DBSecretARN         string
	SSMDBSecretARNParam string
	DBName              string

	ThumbnailWidth     int
	RequiredSlotCount  int
	FinalizeMaxRetries int
	FinalizeBaseDelay  time.Duration
	MessageConcurrency int
	ItemConcurrency    int
}

// Load reads the configuration through getenv, usually os.Getenv. All
// missing or malformed values are reported together.
func Load(getenv func(string) string) (Config, error) {
	var errs []error

	required := func(name string) string {
		v := getenv(name)
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
		return v
	}
	positive := func(name string, def int) int {
		v := getenv(name)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs = append(errs, fmt.Errorf("%s must be a positive integer, got %q", name, v))
			return def
		}
		return n
	}

	cfg := Config{
		MediaBucket:         required(EnvMediaBucket),
		SubmissionTable:     required(EnvSubmissionTable),
		ParticipantTable:    required(EnvParticipantTable),
		EventBus:            getenv(EnvEventBus),
		DBClusterARN:        required(EnvDBClusterARN),
		DBSecretARN:         getenv(EnvDBSecretARN),
		SSMDBSecretARNParam: getenv(EnvSSMDBSecretARNParam),
		DBName:              getenv(EnvDBName),
		ThumbnailWidth:      positive(EnvThumbnailWidth, media.DefaultThumbnailWidth),
		RequiredSlotCount:   positive(EnvRequiredSlotCount, defaultRequiredSlots),
		FinalizeMaxRetries:  positive(EnvFinalizeMaxRetries, defaultFinalizeRetries),
		FinalizeBaseDelay:   time.Duration(positive(EnvFinalizeBaseDelayMS, defaultFinalizeBaseMS)) * time.Millisecond,
		MessageConcurrency:  positive(EnvMessageConcurrency, defaultMessageWorkers),
		ItemConcurrency:     positive(EnvItemConcurrency, defaultItemWorkers),
	}
	if cfg.DBName == "" {
		cfg.DBName = defaultDBName
	}
	if cfg.DBSecretARN == "" && cfg.SSMDBSecretARNParam == "" {
		errs = append(errs, fmt.Errorf("one of %s or %s is required", EnvDBSecretARN, EnvSSMDBSecretARNParam))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
