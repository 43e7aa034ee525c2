package batch

import (
	"strings"

	"procnotify/internal/event"
)

// SubjectFunc renders the group subject for a multi-event flush.
type SubjectFunc func(first event.Enriched) (string, error)

// Merge builds the single request for a flush of events. ok is false when
// events is empty.
//
// One event is passed through verbatim. Several events get the group subject
// rendered against the first one, their texts concatenated in order, and
// their attachments merged with the first occurrence of each path kept.
func Merge(events []event.Enriched, subject SubjectFunc) (req event.Request, ok bool, err error) {
	switch len(events) {
	case 0:
		return event.Request{}, false, nil
	case 1:
		e := events[0]
		return event.Request{
			Subject:     e.Subject,
			Text:        e.Text,
			Attachments: append([]event.Attachment(nil), e.Attachments...),
			Events:      1,
		}, true, nil
	}

	s := events[0].Subject
	if subject != nil {
		if s, err = subject(events[0]); err != nil {
			return event.Request{}, false, err
		}
	}

	var text strings.Builder
	var atts []event.Attachment
	seen := make(map[string]struct{})
	for _, e := range events {
		text.WriteString(e.Text)
		for _, a := range e.Attachments {
			if _, dup := seen[a.Path]; dup {
				continue
			}
			seen[a.Path] = struct{}{}
			atts = append(atts, a)
		}
	}
	return event.Request{
		Subject:     s,
		Text:        text.String(),
		Attachments: atts,
		Events:      len(events),
	}, true, nil
}
