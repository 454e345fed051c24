package platforms

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/trendsift/trendsift-backend/internal/discovery/config"
	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

// instagramHandler paginates with the provider's opaque next_token; the token
// is passed through as the cursor verbatim.
type instagramHandler struct {
	log      *logger.Logger
	api      *apiClient
	pageSize int
}

func NewInstagramHandler(log *logger.Logger, tuning config.PlatformTuning) Handler {
	return &instagramHandler{
		log:      log.With("handler", "InstagramHandler"),
		api:      newAPIClient(log, types.PlatformInstagram, clientConfigFromEnv(types.PlatformInstagram, tuning.RequestTimeout())),
		pageSize: tuning.PageSize,
	}
}

type instagramAccount struct {
	Pk            string `json:"pk"`
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	FollowerCount int64  `json:"follower_count"`
	Biography     string `json:"biography"`
	PublicEmail   string `json:"public_email"`
}

type instagramSearchResponse struct {
	Accounts      []instagramAccount `json:"accounts"`
	NextToken     string             `json:"next_token"`
	MoreAvailable bool               `json:"more_available"`
}

type instagramProfileResponse struct {
	Account instagramAccount `json:"account"`
}

func (h *instagramHandler) Platform() string { return types.PlatformInstagram }

func (h *instagramHandler) FetchPage(ctx context.Context, params SearchParams, cursor string) (*Page, error) {
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = h.pageSize
	}

	q := url.Values{}
	q.Set("count", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("next_token", cursor)
	}

	var path string
	switch params.Mode {
	case types.SearchModeSimilar:
		path = "/v1/instagram/similar"
		q.Set("username", strings.TrimPrefix(params.TargetHandle, "@"))
	default:
		// Keyword discovery runs over reels search, which surfaces the
		// posting account for each hit.
		path = "/v1/instagram/reels/search"
		q.Set("query", strings.Join(params.Keywords, " "))
	}

	var resp instagramSearchResponse
	if err := h.api.getJSON(ctx, path, q, &resp); err != nil {
		return nil, err
	}

	page := &Page{
		NextCursor: resp.NextToken,
		Exhausted:  !resp.MoreAvailable || resp.NextToken == "" || len(resp.Accounts) == 0,
	}
	if page.Exhausted {
		page.NextCursor = cursor
	}
	for _, a := range resp.Accounts {
		page.Records = append(page.Records, instagramProfileOf(a))
	}
	return page, nil
}

func (h *instagramHandler) FetchProfile(ctx context.Context, externalID string) (*CreatorProfile, error) {
	q := url.Values{}
	q.Set("pk", externalID)
	var resp instagramProfileResponse
	if err := h.api.getJSON(ctx, "/v1/instagram/profile", q, &resp); err != nil {
		return nil, err
	}
	p := instagramProfileOf(resp.Account)
	return &p, nil
}

func (h *instagramHandler) FetchProfileByHandle(ctx context.Context, handle string) (*CreatorProfile, error) {
	q := url.Values{}
	q.Set("username", strings.TrimPrefix(handle, "@"))
	var resp instagramProfileResponse
	if err := h.api.getJSON(ctx, "/v1/instagram/profile", q, &resp); err != nil {
		return nil, err
	}
	p := instagramProfileOf(resp.Account)
	return &p, nil
}

func instagramProfileOf(a instagramAccount) CreatorProfile {
	p := CreatorProfile{
		Platform:          types.PlatformInstagram,
		ExternalID:        a.Pk,
		Handle:            a.Username,
		DisplayName:       a.FullName,
		FollowerCount:     a.FollowerCount,
		Biography:         a.Biography,
		EnhancementStatus: types.EnhancementNotAttempted,
	}
	if a.PublicEmail != "" {
		p.Emails = []string{strings.ToLower(a.PublicEmail)}
	}
	return p
}
