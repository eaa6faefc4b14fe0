package moderation

import (
	"context"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Limiter enforces a per-sender message rate. Allow returns false when
// the sender has exceeded the configured rate.
type Limiter interface {
	Allow(ctx context.Context, sessionID, senderID uuid.UUID) (bool, error)
}

// ScreenResult is the outcome of synchronous screening.
type ScreenResult struct {
	HardBlock   bool     // tripped a hard rule: block, never broadcast
	NeedsReview bool     // borderline: broadcast optimistically, defer to async analysis
	Score       float64  // heuristic risk score in [0,1]
	Categories  []string // matched rule categories
	Reason      string
}

// Screener runs deterministic rule checks on the chat hot path. It must
// stay cheap: term matching and a rate-limit lookup only.
type Screener struct {
	banned  []string
	watch   []string
	limiter Limiter
}

// NewScreener creates a synchronous screener. Terms are matched
// case-insensitively as substrings.
func NewScreener(bannedTerms, watchTerms []string, limiter Limiter) *Screener {
	return &Screener{
		banned:  lowerAll(bannedTerms),
		watch:   lowerAll(watchTerms),
		limiter: limiter,
	}
}

// Screen evaluates a message body for the sender.
func (s *Screener) Screen(ctx context.Context, sessionID, senderID uuid.UUID, body string) (ScreenResult, error) {
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, sessionID, senderID)
		if err != nil {
			return ScreenResult{}, err
		}
		if !ok {
			return ScreenResult{
				HardBlock:  true,
				Score:      1,
				Categories: []string{"rate_limit"},
				Reason:     "message rate limit exceeded",
			}, nil
		}
	}

	lower := strings.ToLower(body)
	for _, term := range s.banned {
		if strings.Contains(lower, term) {
			return ScreenResult{
				HardBlock:  true,
				Score:      1,
				Categories: []string{"banned_term"},
				Reason:     "banned term",
			}, nil
		}
	}

	res := ScreenResult{}
	for _, term := range s.watch {
		if strings.Contains(lower, term) {
			res.NeedsReview = true
			res.Score = maxf(res.Score, 0.5)
			res.Categories = append(res.Categories, "watch_term")
			break
		}
	}
	// Shouting and link spam are weak signals: defer to async analysis
	// rather than blocking.
	if shoutRatio(body) > 0.8 && len(body) >= 12 {
		res.NeedsReview = true
		res.Score = maxf(res.Score, 0.4)
		res.Categories = append(res.Categories, "shouting")
	}
	if strings.Count(lower, "http://")+strings.Count(lower, "https://") >= 2 {
		res.NeedsReview = true
		res.Score = maxf(res.Score, 0.5)
		res.Categories = append(res.Categories, "link_spam")
	}
	return res, nil
}

func shoutRatio(s string) float64 {
	letters, upper := 0, 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(strings.ToLower(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
