// Package email implements the email module's provider adapters (SES,
// Resend); the dry-run mock lives in internal/modules/mock.
package email

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/modules"
)

// MaxSESChunkSize is the largest chunk the SES module accepts in one
// ExecuteBatch call; callers larger than this should have already
// chunked upstream (spec §4.2).
const MaxSESChunkSize = 50

// SESModule sends email via AWS SES v2. SES has no bulk send API, so a
// "batch" dispatches one SendEmail call per recipient and assembles the
// per-recipient results, matching the teacher's SESSender.SendBatch.
type SESModule struct {
	client *sesv2.Client
}

// NewSESModule builds an SES module from static credentials. When
// accessKey/secretKey are empty it falls back to the SDK's default
// credential chain (IAM role, env vars, etc).
func NewSESModule(ctx context.Context, accessKey, secretKey, region string) (*SESModule, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ses module: load aws config: %w", err)
	}
	return &SESModule{client: sesv2.NewFromConfig(cfg)}, nil
}

func (m *SESModule) Type() domain.ModuleType { return domain.ModuleEmail }

func (m *SESModule) ExecuteBatch(ctx context.Context, cfgIface domain.ModuleConfig, recipients []modules.RecipientPayload) ([]modules.Result, error) {
	cfg, ok := cfgIface.(domain.EmailConfig)
	if !ok {
		return nil, fmt.Errorf("ses module: expected EmailConfig, got %T", cfgIface)
	}
	if len(recipients) > MaxSESChunkSize {
		return nil, fmt.Errorf("ses module: chunk size %d exceeds max %d", len(recipients), MaxSESChunkSize)
	}

	results := make([]modules.Result, len(recipients))
	for i, rp := range recipients {
		results[i] = m.sendOne(ctx, cfg, rp)
	}
	return results, nil
}

func (m *SESModule) sendOne(ctx context.Context, cfg domain.EmailConfig, rp modules.RecipientPayload) modules.Result {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{rp.Identifier}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(rp.Payload.Subject), Charset: aws.String("UTF-8")},
				Body:    &types.Body{},
			},
		},
	}
	if rp.Payload.HTMLContent != "" {
		input.Content.Simple.Body.Html = &types.Content{Data: aws.String(rp.Payload.HTMLContent), Charset: aws.String("UTF-8")}
	}
	if rp.Payload.TextContent != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(rp.Payload.TextContent), Charset: aws.String("UTF-8")}
	}

	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return modules.Result{RecipientID: rp.RecipientID, Success: false, Err: err}
	}

	var messageID string
	if out.MessageId != nil {
		messageID = *out.MessageId
	}
	return modules.Result{RecipientID: rp.RecipientID, Success: true, ProviderMessageID: messageID}
}
