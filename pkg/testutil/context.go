package testutil

import (
	"context"
	"time"

	"ballotbox/pkg/requestcontext"
)

// VoterContext builds a context the way the HTTP middleware chain would for
// an anonymous voter.
func VoterContext(ip, userAgent string, now time.Time) context.Context {
	ctx := requestcontext.WithClientMetadata(context.Background(), ip, userAgent)
	return requestcontext.WithTime(ctx, now)
}

// MemberContext is VoterContext for an authenticated portal member.
func MemberContext(memberID, ip string, now time.Time) context.Context {
	ctx := VoterContext(ip, "test-agent", now)
	return requestcontext.WithMemberID(ctx, memberID)
}
