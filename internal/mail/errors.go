package mail

import (
	"errors"
	"strings"
)

// MissingAttachmentsError reports attachment files that were skipped.
// The message itself was still sent unless Err is set.
type MissingAttachmentsError struct {
	Paths []string
	Err   error
}

func (e *MissingAttachmentsError) Error() string {
	s := "mail: missing attachments: " + strings.Join(e.Paths, ", ")
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *MissingAttachmentsError) Unwrap() error { return e.Err }

// Sent reports whether err still means the message went out.
func Sent(err error) bool {
	if err == nil {
		return true
	}
	var me *MissingAttachmentsError
	return errors.As(err, &me) && me.Err == nil
}
