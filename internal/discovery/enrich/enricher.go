package enrich

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/trendsift/trendsift-backend/internal/discovery/platforms"
	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

// Enricher fills in biographies and contact emails for records the search
// response returned bare. Enhancement is strictly best-effort: a record that
// cannot be enriched comes back with enhancement_status=failed and the job
// carries on.
type Enricher struct {
	log     *logger.Logger
	source  platforms.ProfileSource
	limiter *rate.Limiter
}

// NewEnricher paces all profile fetches through one limiter so enrichment
// never bursts against the provider's per-account limits, whatever the
// caller's concurrency.
func NewEnricher(log *logger.Logger, source platforms.ProfileSource, delay time.Duration) *Enricher {
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &Enricher{
		log:     log.With("service", "Enricher"),
		source:  source,
		limiter: rate.NewLimiter(rate.Every(delay), 1),
	}
}

// lookupStrategy is one rung of the fallback ladder. Strategies run in
// declared order and the first success wins.
type lookupStrategy struct {
	name  string
	fetch func(ctx context.Context, p platforms.CreatorProfile) (*platforms.CreatorProfile, error)
}

func (e *Enricher) strategies() []lookupStrategy {
	return []lookupStrategy{
		{name: "profile_by_id", fetch: e.fetchProfile},
		{name: "profile_by_handle", fetch: e.fetchByHandle},
	}
}

// Enhance returns the profile with biography and emails filled in where a
// lookup succeeded. It never returns an error; the enhancement status on the
// returned profile is the whole story.
func (e *Enricher) Enhance(ctx context.Context, p platforms.CreatorProfile) platforms.CreatorProfile {
	if p.Biography != "" {
		// The search response already carried the bio. Harvest emails from it
		// but leave the status at not_attempted: no secondary lookup ran.
		p.Emails = mergeEmails(p.Emails, ExtractEmails(p.Biography))
		return p
	}

	var fetched *platforms.CreatorProfile
	var err error
	for _, s := range e.strategies() {
		fetched, err = s.fetch(ctx, p)
		if err == nil {
			break
		}
		e.log.Debug("Enrichment lookup failed",
			"strategy", s.name,
			"platform", p.Platform,
			"external_id", p.ExternalID,
			"error", err.Error(),
		)
	}
	if err != nil {
		p.EnhancementStatus = types.EnhancementFailed
		return p
	}

	if fetched.Biography != "" {
		p.Biography = fetched.Biography
	}
	if p.DisplayName == "" {
		p.DisplayName = fetched.DisplayName
	}
	if p.FollowerCount == 0 {
		p.FollowerCount = fetched.FollowerCount
	}
	p.Emails = mergeEmails(p.Emails, fetched.Emails)
	return e.finish(p)
}

func (e *Enricher) fetchProfile(ctx context.Context, p platforms.CreatorProfile) (*platforms.CreatorProfile, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.source.FetchProfile(ctx, p.ExternalID)
}

func (e *Enricher) fetchByHandle(ctx context.Context, p platforms.CreatorProfile) (*platforms.CreatorProfile, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.source.FetchProfileByHandle(ctx, p.Handle)
}

func (e *Enricher) finish(p platforms.CreatorProfile) platforms.CreatorProfile {
	p.Emails = mergeEmails(p.Emails, ExtractEmails(p.Biography))
	p.EnhancementStatus = types.EnhancementEnhanced
	return p
}

func mergeEmails(existing, found []string) []string {
	if len(found) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		seen[m] = struct{}{}
	}
	out := existing
	for _, m := range found {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
