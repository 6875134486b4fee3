package shared

import "context"

type officerContextKey struct{}

// ContextWithOfficer stores the resolved officer identity in context. The
// upstream gateway authenticates the request and injects the identity before
// it reaches this service.
func ContextWithOfficer(ctx context.Context, officerID int64) context.Context {
	return context.WithValue(ctx, officerContextKey{}, officerID)
}

// OfficerFromContext extracts the officer identity from context. Returns zero
// when no identity was injected.
func OfficerFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(officerContextKey{}).(int64)
	return id
}
