package lambdaboot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/fpang/photo-contest/internal/config"
)

type fakeSSM struct {
	value *string
	err   error
	names []string
}

func (f *fakeSSM) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.names = append(f.names, aws.ToString(params.Name))
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: f.value}}, nil
}

func TestResolveDBSecretARN(t *testing.T) {
	ctx := context.Background()

	direct := &fakeSSM{}
	got, err := ResolveDBSecretARN(ctx, direct, config.Config{DBSecretARN: "arn:direct", SSMDBSecretARNParam: "/ignored"})
	if err != nil || got != "arn:direct" || len(direct.names) != 0 {
		t.Errorf("direct secret = %q, %v, SSM calls %v", got, err, direct.names)
	}

	fromSSM := &fakeSSM{value: aws.String("arn:from-ssm")}
	got, err = ResolveDBSecretARN(ctx, fromSSM, config.Config{SSMDBSecretARNParam: "/contest/db-secret-arn"})
	if err != nil || got != "arn:from-ssm" {
		t.Errorf("SSM secret = %q, %v", got, err)
	}
	if len(fromSSM.names) != 1 || fromSSM.names[0] != "/contest/db-secret-arn" {
		t.Errorf("SSM calls = %v", fromSSM.names)
	}

	failing := &fakeSSM{err: errors.New("access denied")}
	if _, err := ResolveDBSecretARN(ctx, failing, config.Config{SSMDBSecretARNParam: "/p"}); err == nil {
		t.Error("expected SSM error")
	}
	empty := &fakeSSM{value: aws.String("")}
	if _, err := ResolveDBSecretARN(ctx, empty, config.Config{SSMDBSecretARNParam: "/p"}); err == nil {
		t.Error("expected error for empty parameter")
	}
	if _, err := ResolveDBSecretARN(ctx, &fakeSSM{}, config.Config{}); err == nil {
		t.Error("expected error with no secret configured")
	}
}

func TestNewServices(t *testing.T) {
	cfg := config.Config{
		MediaBucket:        "contest-media",
		SubmissionTable:    "submissions",
		ParticipantTable:   "participants",
		DBClusterARN:       "arn:cluster",
		DBName:             "contest",
		RequiredSlotCount:  2,
		FinalizeMaxRetries: 3,
		FinalizeBaseDelay:  400 * time.Millisecond,
	}
	svc, err := NewServices(Clients{}, cfg, "arn:secret")
	if err != nil {
		t.Fatalf("NewServices: %v", err)
	}
	if svc.Pipeline == nil || svc.Submissions == nil || svc.Participants == nil || svc.Durable == nil || svc.Announcer == nil {
		t.Errorf("services not fully wired: %+v", svc)
	}
	if svc.Participants.Required(nil) != 2 {
		t.Errorf("default required = %d, want 2", svc.Participants.Required(nil))
	}
}
