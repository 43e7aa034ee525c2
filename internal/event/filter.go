package event

import "strings"

// Filter decides whether a raw event is eligible for notification.
type Filter struct {
	watched map[string]struct{}
}

func NewFilter(events []string) *Filter {
	f := &Filter{watched: make(map[string]struct{}, len(events))}
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			f.watched[e] = struct{}{}
		}
	}
	return f
}

// Accept rejects manual events and event types outside the watched set.
func (f *Filter) Accept(ev RawEvent) bool {
	ok, _ := f.Check(ev)
	return ok
}

// Check is Accept plus the rejection reason.
func (f *Filter) Check(ev RawEvent) (bool, string) {
	if ev.Manually {
		return false, "manual"
	}
	if f == nil {
		return false, "not watched"
	}
	if _, ok := f.watched[ev.Event]; !ok {
		return false, "not watched"
	}
	return true, ""
}
