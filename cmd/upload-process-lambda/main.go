// Package main provides the Lambda entry point for contest upload processing.
//
// This Lambda is triggered by SQS. Each message carries an S3 ObjectCreated
// notification (directly, via SNS, or via EventBridge) for the media bucket.
// For each referenced original it:
//
//  1. Parses {tenant}/{participantRef}/{slot}/{filename} from the key
//  2. Extracts EXIF metadata and renders a thumbnail in parallel
//  3. Writes the slot's state to the submissions table
//  4. Atomically counts the slot on the participant
//  5. Finalizes the participant (Aurora write + EventBridge event) when the
//     last required slot is counted
//
// Messages whose body cannot be decoded are returned as batch item failures
// so SQS redelivers only those.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-contest/internal/lambdaboot"
	"github.com/fpang/photo-contest/internal/logging"
	"github.com/fpang/photo-contest/internal/pipeline"
)

var coldStart = true

var uploads *pipeline.Pipeline

// boot wires the pipeline once per cold start. Fatals on bad configuration.
func boot() {
	initStart := time.Now()
	logging.Init()

	awsClients := lambdaboot.InitAWS()
	svc := lambdaboot.InitServices(awsClients)
	uploads = svc.Pipeline

	lambdaboot.StartupLog("upload-process-lambda", initStart, svc.Config).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Log()
}

func main() {
	boot()
	lambda.Start(handler)
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "upload-process-lambda").Msg("Cold start, first invocation")
	}
	return handleSQS(ctx, uploads, event), nil
}

// batchHandler is the part of the pipeline the SQS adapter drives.
type batchHandler interface {
	HandleBatch(ctx context.Context, msgs []pipeline.Message) pipeline.BatchResult
}

// handleSQS converts an SQS event into pipeline messages and reports the
// failed ones as a partial batch response.
func handleSQS(ctx context.Context, h batchHandler, event events.SQSEvent) events.SQSEventResponse {
	msgs := make([]pipeline.Message, len(event.Records))
	for i, r := range event.Records {
		msgs[i] = pipeline.Message{ID: r.MessageId, Body: r.Body}
	}

	res := h.HandleBatch(ctx, msgs)

	resp := events.SQSEventResponse{BatchItemFailures: []events.SQSBatchItemFailure{}}
	for _, id := range res.Failed {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return resp
}
