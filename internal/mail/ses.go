package mail

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SES sends raw MIME messages through AWS SES v2 so attachments survive.
// Credentials come from the default AWS chain.
type SES struct {
	client *sesv2.Client
	region string
}

func NewSES(ctx context.Context, region string) (*SES, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ses: load aws config: %w", err)
	}
	return &SES{client: sesv2.NewFromConfig(cfg), region: cfg.Region}, nil
}

func (s *SES) Name() string { return "ses" }

func (s *SES) Send(ctx context.Context, m *Message) error {
	if err := validate(m); err != nil {
		return err
	}
	msg, missing, err := buildMsg(m)
	if err != nil {
		return fmt.Errorf("ses: build message: %w", err)
	}
	var raw bytes.Buffer
	if _, err := msg.WriteTo(&raw); err != nil {
		return fmt.Errorf("ses: encode message: %w", err)
	}

	_, err = s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.From),
		Destination:      &types.Destination{ToAddresses: m.To},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw.Bytes()},
		},
	})
	if err != nil {
		err = fmt.Errorf("ses: send: %w", err)
	}
	if len(missing) > 0 {
		return &MissingAttachmentsError{Paths: missing, Err: err}
	}
	return err
}
