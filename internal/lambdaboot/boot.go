// Package lambdaboot provides shared cold-start bootstrap logic.
//
// The upload processor and the operator CLI need the same AWS clients,
// stores and pipeline. This package extracts the common init patterns so
// each entry point is a short composition of helpers.
package lambdaboot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-contest/internal/announce"
	"github.com/fpang/photo-contest/internal/config"
	"github.com/fpang/photo-contest/internal/durable"
	"github.com/fpang/photo-contest/internal/logging"
	"github.com/fpang/photo-contest/internal/media"
	"github.com/fpang/photo-contest/internal/pipeline"
	"github.com/fpang/photo-contest/internal/store"
)

// AWSClients holds the core AWS SDK clients used across entry points.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// LoadConfig reads the process configuration from the environment. Fatals
// on any missing or malformed value.
func LoadConfig() config.Config {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	return cfg
}

// SSMParameterAPI is the subset of the SSM client used to resolve secrets.
type SSMParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolveDBSecretARN returns cfg.DBSecretARN, or reads it from the SSM
// parameter named by cfg.SSMDBSecretARNParam when it is not set directly.
func ResolveDBSecretARN(ctx context.Context, client SSMParameterAPI, cfg config.Config) (string, error) {
	if cfg.DBSecretARN != "" {
		return cfg.DBSecretARN, nil
	}
	if cfg.SSMDBSecretARNParam == "" {
		return "", errors.New("no database secret configured")
	}
	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &cfg.SSMDBSecretARNParam,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read SSM parameter %s: %w", cfg.SSMDBSecretARNParam, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", cfg.SSMDBSecretARNParam)
	}
	log.Debug().Str("param", cfg.SSMDBSecretARNParam).Dur("elapsed", time.Since(ssmStart)).Msg("Database secret ARN loaded from SSM")
	return *result.Parameter.Value, nil
}

// Services are the wired collaborators of the upload pipeline.
type Services struct {
	Config       config.Config
	Submissions  *store.SubmissionStore
	Participants *store.ParticipantStore
	Durable      *durable.DataAPIStore
	Announcer    *announce.EventBridgeAnnouncer
	Pipeline     *pipeline.Pipeline
}

// Clients are the AWS service clients Services are built from.
type Clients struct {
	S3          media.S3API
	Dynamo      store.DynamoAPI
	EventBridge announce.EventBridgeAPI
	DataAPI     durable.DataAPI
}

// NewClients creates every service client from one AWS config.
func NewClients(cfg aws.Config) Clients {
	return Clients{
		S3:          s3.NewFromConfig(cfg),
		Dynamo:      dynamodb.NewFromConfig(cfg),
		EventBridge: eventbridge.NewFromConfig(cfg),
		DataAPI:     rdsdata.NewFromConfig(cfg),
	}
}

// NewServices wires stores, announcer and pipeline. secretARN is the
// resolved database secret.
func NewServices(c Clients, cfg config.Config, secretARN string) (Services, error) {
	svc := Services{
		Config:       cfg,
		Submissions:  store.NewSubmissionStore(c.Dynamo, cfg.SubmissionTable),
		Participants: store.NewParticipantStore(c.Dynamo, cfg.ParticipantTable, cfg.RequiredSlotCount),
		Durable:      durable.NewDataAPIStore(c.DataAPI, cfg.DBClusterARN, secretARN, cfg.DBName),
		Announcer:    announce.NewEventBridgeAnnouncer(c.EventBridge, cfg.EventBus),
	}
	p, err := pipeline.New(pipeline.Deps{
		Blobs:        media.NewS3BlobStore(c.S3),
		Extractor:    media.ExifExtractor{},
		Renderer:     media.JPEGRenderer{},
		Submissions:  svc.Submissions,
		Participants: svc.Participants,
		Durable:      svc.Durable,
		Announcer:    svc.Announcer,
	}, pipeline.Config{
		Bucket:             cfg.MediaBucket,
		ThumbnailWidth:     cfg.ThumbnailWidth,
		MessageConcurrency: cfg.MessageConcurrency,
		ItemConcurrency:    cfg.ItemConcurrency,
		FinalizeMaxRetries: cfg.FinalizeMaxRetries,
		FinalizeBaseDelay:  cfg.FinalizeBaseDelay,
	})
	if err != nil {
		return Services{}, err
	}
	svc.Pipeline = p
	return svc, nil
}

// InitServices loads configuration, resolves the database secret and wires
// every service. Fatals on any error.
func InitServices(clients AWSClients) Services {
	cfg := LoadConfig()
	secretARN, err := ResolveDBSecretARN(context.Background(), clients.SSM, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve database secret")
	}
	svc, err := NewServices(NewClients(clients.Config), cfg, secretARN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire upload pipeline")
	}
	return svc
}

// StartupLog is a convenience wrapper for the startup logger. It registers
// every resource named by cfg.
func StartupLog(name string, initStart time.Time, cfg config.Config) *logging.StartupLogger {
	sl := logging.NewStartupLogger(name).
		InitDuration(time.Since(initStart)).
		S3Bucket("media", cfg.MediaBucket).
		DynamoTable("submissions", cfg.SubmissionTable).
		DynamoTable("participants", cfg.ParticipantTable).
		EventBus("finalized", cfg.EventBus).
		Database("contest", cfg.DBClusterARN, cfg.DBName).
		Config("requiredSlotCount", fmt.Sprint(cfg.RequiredSlotCount)).
		Config("thumbnailWidth", fmt.Sprint(cfg.ThumbnailWidth)).
		Config("finalizeMaxRetries", fmt.Sprint(cfg.FinalizeMaxRetries)).
		Config("finalizeBaseDelay", cfg.FinalizeBaseDelay.String()).
		Config("messageConcurrency", fmt.Sprint(cfg.MessageConcurrency)).
		Config("itemConcurrency", fmt.Sprint(cfg.ItemConcurrency))
	if cfg.SSMDBSecretARNParam != "" {
		sl = sl.SSMParam("dbSecretArn", cfg.SSMDBSecretARNParam)
	}
	return sl
}
