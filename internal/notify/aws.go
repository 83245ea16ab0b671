package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
)

// LoadAWSConfig builds the SDK config shared by SES and SQS. A non-empty
// endpoint points both at LocalStack or another compatible service.
func LoadAWSConfig(ctx context.Context, region, endpoint string) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(endpoint)
	}
	return awsCfg, nil
}

// NewEmailSender picks the sender named by EMAIL_PROVIDER.
func NewEmailSender(ctx context.Context, cfg config.Config, logger zerolog.Logger) (EmailSender, error) {
	switch cfg.EmailProvider {
	case "sendgrid":
		return NewSendGridSender(SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger), nil
	case "ses":
		awsCfg, err := LoadAWSConfig(ctx, cfg.AWSRegion, cfg.AWSEndpointURL)
		if err != nil {
			return nil, err
		}
		return NewSESSender(sesv2.NewFromConfig(awsCfg), cfg.EmailFrom, cfg.EmailFromName, logger), nil
	default:
		return NewStubEmailSender(logger), nil
	}
}

// NewNotificationQueue connects to NOTIFY_QUEUE_URL.
func NewNotificationQueue(ctx context.Context, cfg config.Config) (*SQSQueue, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg.AWSRegion, cfg.AWSEndpointURL)
	if err != nil {
		return nil, err
	}
	return NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.NotifyQueueURL), nil
}
