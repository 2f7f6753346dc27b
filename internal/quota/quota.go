package quota

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultDailyLimit is the number of counted requests a client may make per UTC day.
const DefaultDailyLimit = 25

const dayLayout = "2006-01-02"

// Token is the client-held usage state. It is never stored server-side.
type Token struct {
	Count int
	Day   string // YYYY-MM-DD, UTC
}

// String renders the token as "<count>:<YYYY-MM-DD>".
func (t Token) String() string {
	return fmt.Sprintf("%d:%s", t.Count, t.Day)
}

// ParseToken parses "<count>:<YYYY-MM-DD>". Anything malformed is a fresh token.
func ParseToken(s string) Token {
	s = strings.TrimSpace(s)
	countPart, dayPart, ok := strings.Cut(s, ":")
	if !ok {
		return Token{}
	}
	count, err := strconv.Atoi(countPart)
	if err != nil || count < 0 {
		return Token{}
	}
	if _, err := time.Parse(dayLayout, dayPart); err != nil {
		return Token{}
	}
	return Token{Count: count, Day: dayPart}
}

// Status is the outcome of a quota check.
type Status struct {
	Allowed   bool      `json:"-"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"resetAt"`
}

// Guard enforces the daily budget. It holds no mutable state: every answer is a
// function of the token and the current time, so concurrent requests bearing the
// same token can both be allowed before either writes back. That looseness is
// accepted for client-held quota.
type Guard struct {
	Limit int
	Now   func() time.Time
}

// NewGuard returns a guard with the given limit; non-positive limits use DefaultDailyLimit.
func NewGuard(limit int) *Guard {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	return &Guard{Limit: limit, Now: time.Now}
}

func (g *Guard) now() time.Time {
	if g.Now == nil {
		return time.Now().UTC()
	}
	return g.Now().UTC()
}

func (g *Guard) limit() int {
	if g.Limit <= 0 {
		return DefaultDailyLimit
	}
	return g.Limit
}

// effective applies the lazy day reset.
func (g *Guard) effective(t Token, now time.Time) int {
	if t.Day != now.Format(dayLayout) || t.Count < 0 {
		return 0
	}
	return t.Count
}

// Check reports whether another request is allowed under the token.
func (g *Guard) Check(t Token) Status {
	now := g.now()
	limit := g.limit()
	count := g.effective(t, now)

	used := count
	if used > limit {
		used = limit
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	return Status{
		Allowed:   count < limit,
		Used:      used,
		Remaining: remaining,
		Limit:     limit,
		ResetAt:   NextReset(now),
	}
}

// Increment returns the token after one more counted request today.
func (g *Guard) Increment(t Token) Token {
	now := g.now()
	return Token{Count: g.effective(t, now) + 1, Day: now.Format(dayLayout)}
}

// NextReset returns the next UTC midnight after now.
func NextReset(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
