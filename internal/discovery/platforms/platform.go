package platforms

import (
	"context"
	"fmt"

	"github.com/trendsift/trendsift-backend/internal/discovery/config"
	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

// SearchParams is the platform-independent search input for one job.
type SearchParams struct {
	Mode         string
	Keywords     []string
	TargetHandle string
	PageSize     int
}

// CreatorProfile is the normalized creator record every handler produces.
type CreatorProfile struct {
	Platform          string
	ExternalID        string
	Handle            string
	DisplayName       string
	FollowerCount     int64
	Biography         string
	Emails            []string
	EnhancementStatus string
}

// Page is one fetch result. NextCursor is opaque to everything above the
// handler; Exhausted means the source has nothing past this page.
type Page struct {
	Records    []CreatorProfile
	NextCursor string
	Exhausted  bool
}

// Handler is the per-source adapter contract. Implementations hold no mutable
// state beyond their HTTP client and config, so concurrent invocations for
// different jobs never interfere.
type Handler interface {
	Platform() string
	FetchPage(ctx context.Context, params SearchParams, cursor string) (*Page, error)
}

// ProfileSource is the secondary per-creator fetch the enrichment pass uses
// when the search response omitted the biography.
type ProfileSource interface {
	// FetchProfile looks a creator up by its platform-native id.
	FetchProfile(ctx context.Context, externalID string) (*CreatorProfile, error)
	// FetchProfileByHandle is the alternate endpoint tried when the id
	// lookup fails.
	FetchProfileByHandle(ctx context.Context, handle string) (*CreatorProfile, error)
}

// Registry is the closed set of platform handlers, resolved once at job
// submission time by platform name.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry(log *logger.Logger, snap config.Snapshot) *Registry {
	return &Registry{
		handlers: map[string]Handler{
			types.PlatformTikTok:    NewTikTokHandler(log, snap.Platform(types.PlatformTikTok)),
			types.PlatformInstagram: NewInstagramHandler(log, snap.Platform(types.PlatformInstagram)),
			types.PlatformYouTube:   NewYouTubeHandler(log, snap.Platform(types.PlatformYouTube)),
		},
	}
}

func (r *Registry) Resolve(platform string) (Handler, error) {
	h, ok := r.handlers[platform]
	if !ok {
		return nil, fmt.Errorf("no handler for platform %q", platform)
	}
	return h, nil
}

// ProfileSourceFor returns the enrichment source for a platform, when the
// handler supports per-creator lookups.
func (r *Registry) ProfileSourceFor(platform string) (ProfileSource, error) {
	h, err := r.Resolve(platform)
	if err != nil {
		return nil, err
	}
	src, ok := h.(ProfileSource)
	if !ok {
		return nil, fmt.Errorf("platform %q has no profile source", platform)
	}
	return src, nil
}
