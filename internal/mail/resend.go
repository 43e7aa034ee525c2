package mail

import (
	"context"
	"fmt"
	"os"

	"github.com/resend/resend-go/v2"
)

// Resend sends through the Resend HTTP API. Attachment files are read and
// uploaded inline.
type Resend struct {
	client *resend.Client
}

func NewResend(apiKey string) (*Resend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend: api key is required")
	}
	return &Resend{client: resend.NewClient(apiKey)}, nil
}

func (r *Resend) Name() string { return "resend" }

func (r *Resend) Send(ctx context.Context, m *Message) error {
	if err := validate(m); err != nil {
		return err
	}
	params := &resend.SendEmailRequest{
		From:    m.From,
		To:      m.To,
		Subject: m.Subject,
		Text:    m.Text,
		Html:    m.HTML,
	}

	atts, missing := readable(m.Attachments)
	for _, a := range atts {
		b, err := os.ReadFile(a.Path)
		if err != nil {
			missing = append(missing, a.Path)
			continue
		}
		params.Attachments = append(params.Attachments, &resend.Attachment{
			Content:  b,
			Filename: a.Filename,
		})
	}

	_, err := r.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		err = fmt.Errorf("resend: send: %w", err)
	}
	if len(missing) > 0 {
		return &MissingAttachmentsError{Paths: missing, Err: err}
	}
	return err
}
