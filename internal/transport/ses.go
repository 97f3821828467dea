package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"github.com/cuongbtq/email-delivery/internal/domain"
)

// SESAPI is the subset of the SES v2 client used for sending
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig holds AWS SES settings
type SESConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	FromEmail string
	FromName  string
}

// SESSender delivers messages through AWS SES v2
type SESSender struct {
	client SESAPI
	cfg    SESConfig
}

// NewSESSender builds an SES client from static credentials
func NewSESSender(ctx context.Context, cfg SESConfig) (*SESSender, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return NewSESSenderWithClient(sesv2.NewFromConfig(awsCfg), cfg), nil
}

// NewSESSenderWithClient wraps an existing SES client
func NewSESSenderWithClient(client SESAPI, cfg SESConfig) *SESSender {
	return &SESSender{client: client, cfg: cfg}
}

// Name implements Sender
func (s *SESSender) Name() string { return "ses" }

// Send delivers msg through SES
func (s *SESSender) Send(ctx context.Context, msg *Message) error {
	fromEmail, fromName := msg.FromEmail, msg.FromName
	if fromEmail == "" {
		fromEmail, fromName = s.cfg.FromEmail, s.cfg.FromName
	}
	from := fromEmail
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", fromName, fromEmail)
	}

	body := &types.Body{}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if msg.CampaignID != "" {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID),
		})
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return classifySES(err)
	}
	return nil
}

// classifySES treats SES rejections of the message or address as
// permanent and everything else (throttling, network, 5xx) as transient.
func classifySES(err error) error {
	wrapped := fmt.Errorf("ses send failed: %w", err)

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "MessageRejected", "BadRequestException":
			return domain.NewPermanentError(wrapped)
		}
	}
	return domain.NewTransientError(wrapped)
}
