package delivery

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/sequence-engine/internal/config"
)

// sesAPI is the slice of the SES v2 client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers mail through AWS SES v2 using stored templates.
// Template content lives in SES; the sender only references it by name.
type SESSender struct {
	client     sesAPI
	fromDomain string
}

// NewSESSender builds an SES sender from delivery config. Static credentials
// are used when provided, otherwise the default AWS credential chain applies.
func NewSESSender(cfg config.DeliveryConfig) (*SESSender, error) {
	region := cfg.AWSRegion
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKey, cfg.AWSSecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SESSender{
		client:     sesv2.NewFromConfig(awsCfg),
		fromDomain: cfg.FromDomain,
	}, nil
}

// Send delivers one templated email and returns the SES message ID.
func (s *SESSender) Send(ctx context.Context, req SendRequest) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String("no-reply@" + s.fromDomain),
		Destination:      &types.Destination{ToAddresses: []string{req.To}},
		Content: &types.EmailContent{
			Template: &types.Template{
				TemplateName: aws.String(req.TemplateID),
				TemplateData: aws.String("{}"),
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(req.CampaignID)},
			{Name: aws.String("message_id"), Value: aws.String(req.MessageID)},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send to campaign %s message %s: %w", req.CampaignID, req.MessageID, err)
	}
	if out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}
