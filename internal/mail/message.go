package mail

import (
	gomail "github.com/wneessen/go-mail"
)

// buildMsg assembles the MIME message. Missing attachment files are
// skipped and returned so the caller can log them.
func buildMsg(m *Message) (*gomail.Msg, []string, error) {
	msg := gomail.NewMsg()
	if err := msg.From(m.From); err != nil {
		return nil, nil, err
	}
	if err := msg.To(m.To...); err != nil {
		return nil, nil, err
	}
	msg.Subject(m.Subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextPlain, m.Text)
	if m.HTML != "" {
		msg.AddAlternativeString(gomail.TypeTextHTML, m.HTML)
	}
	atts, missing := readable(m.Attachments)
	for _, a := range atts {
		msg.AttachFile(a.Path, gomail.WithFileName(a.Filename))
	}
	return msg, missing, nil
}
