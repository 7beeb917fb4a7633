package authz

import (
	"context"
	"net/http"
)

type contextKey string

const subjectKey contextKey = "subject"

// WithSubject stores the authenticated caller on the context.
func WithSubject(ctx context.Context, subject string) context.Context {
	if subject == "" {
		return ctx
	}
	return context.WithValue(ctx, subjectKey, subject)
}

func SubjectFromRequest(r *http.Request) (string, bool) {
	sub, ok := r.Context().Value(subjectKey).(string)
	if !ok || sub == "" {
		return "", false
	}
	return sub, true
}
