package mail

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"procnotify/internal/config"
	"procnotify/internal/event"
)

func TestBuildMsgSkipsMissingAttachments(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "api-out.log")
	if err := os.WriteFile(out, []byte("hello log"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := &Message{
		From:    "ops@example.com",
		To:      []string{"tech@example.com"},
		Subject: "api restart",
		Text:    "### restart",
		HTML:    "<h3>restart</h3>",
		Attachments: []event.Attachment{
			{Filename: "api-out.log", Path: out},
			{Filename: "api-err.log", Path: filepath.Join(dir, "gone.log")},
		},
	}
	msg, missing, err := buildMsg(m)
	if err != nil {
		t.Fatalf("buildMsg: %v", err)
	}
	if len(missing) != 1 || !strings.HasSuffix(missing[0], "gone.log") {
		t.Fatalf("missing=%v", missing)
	}
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	raw := buf.String()
	for _, want := range []string{"Subject: api restart", "text/html", `filename="api-out.log"`} {
		if !strings.Contains(raw, want) {
			t.Fatalf("missing %q in message:\n%s", want, raw)
		}
	}
}

func TestSentTreatsMissingAttachmentsAsDelivered(t *testing.T) {
	if !Sent(nil) {
		t.Fatalf("nil error should count as sent")
	}
	if !Sent(&MissingAttachmentsError{Paths: []string{"/x"}}) {
		t.Fatalf("missing attachments alone should count as sent")
	}
	if Sent(&MissingAttachmentsError{Paths: []string{"/x"}, Err: errors.New("boom")}) {
		t.Fatalf("transport error should not count as sent")
	}
	if Sent(errors.New("boom")) {
		t.Fatalf("plain error should not count as sent")
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	cfg := &config.Config{SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 2525}}
	tr, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open smtp: %v", err)
	}
	if tr.Name() != "smtp" {
		t.Fatalf("name=%s", tr.Name())
	}

	cfg.Transport = config.TransportConfig{Driver: "resend", APIKey: "re_test"}
	if tr, err = Open(context.Background(), cfg); err != nil || tr.Name() != "resend" {
		t.Fatalf("Open resend: %v", err)
	}

	cfg.Transport = config.TransportConfig{Driver: "carrier-pigeon"}
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	if err := r.Send(context.Background(), &Message{From: "a@x", To: []string{"b@x"}, Subject: "s"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := r.Send(context.Background(), &Message{From: "a@x"}); err == nil {
		t.Fatalf("expected no-recipient error")
	}
	if got := r.Messages(); len(got) != 1 || got[0].Subject != "s" {
		t.Fatalf("messages=%+v", got)
	}
}
