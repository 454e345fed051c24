package platforms

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/trendsift/trendsift-backend/internal/discovery/config"
	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

// tiktokHandler paginates with an integer offset; the opaque cursor is the
// offset rendered as a decimal string.
type tiktokHandler struct {
	log      *logger.Logger
	api      *apiClient
	pageSize int
}

func NewTikTokHandler(log *logger.Logger, tuning config.PlatformTuning) Handler {
	return &tiktokHandler{
		log:      log.With("handler", "TikTokHandler"),
		api:      newAPIClient(log, types.PlatformTikTok, clientConfigFromEnv(types.PlatformTikTok, tuning.RequestTimeout())),
		pageSize: tuning.PageSize,
	}
}

type tiktokUser struct {
	UserID        string `json:"user_id"`
	UniqueID      string `json:"unique_id"`
	Nickname      string `json:"nickname"`
	FollowerCount int64  `json:"follower_count"`
	Signature     string `json:"signature"`
}

type tiktokSearchResponse struct {
	Users   []tiktokUser `json:"users"`
	HasMore bool         `json:"has_more"`
}

type tiktokProfileResponse struct {
	User tiktokUser `json:"user"`
}

func (h *tiktokHandler) Platform() string { return types.PlatformTikTok }

func (h *tiktokHandler) FetchPage(ctx context.Context, params SearchParams, cursor string) (*Page, error) {
	offset, err := parseOffsetCursor(cursor)
	if err != nil {
		return nil, err
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = h.pageSize
	}

	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(pageSize))

	var path string
	switch params.Mode {
	case types.SearchModeSimilar:
		path = "/v1/tiktok/similar"
		q.Set("unique_id", strings.TrimPrefix(params.TargetHandle, "@"))
	default:
		path = "/v1/tiktok/search"
		q.Set("keywords", strings.Join(params.Keywords, ","))
	}

	var resp tiktokSearchResponse
	if err := h.api.getJSON(ctx, path, q, &resp); err != nil {
		return nil, err
	}

	page := &Page{
		NextCursor: strconv.Itoa(offset + len(resp.Users)),
		Exhausted:  !resp.HasMore || len(resp.Users) == 0,
	}
	for _, u := range resp.Users {
		page.Records = append(page.Records, tiktokProfileOf(u))
	}
	return page, nil
}

func (h *tiktokHandler) FetchProfile(ctx context.Context, externalID string) (*CreatorProfile, error) {
	q := url.Values{}
	q.Set("user_id", externalID)
	var resp tiktokProfileResponse
	if err := h.api.getJSON(ctx, "/v1/tiktok/profile", q, &resp); err != nil {
		return nil, err
	}
	p := tiktokProfileOf(resp.User)
	return &p, nil
}

func (h *tiktokHandler) FetchProfileByHandle(ctx context.Context, handle string) (*CreatorProfile, error) {
	q := url.Values{}
	q.Set("unique_id", strings.TrimPrefix(handle, "@"))
	var resp tiktokProfileResponse
	if err := h.api.getJSON(ctx, "/v1/tiktok/profile", q, &resp); err != nil {
		return nil, err
	}
	p := tiktokProfileOf(resp.User)
	return &p, nil
}

func tiktokProfileOf(u tiktokUser) CreatorProfile {
	return CreatorProfile{
		Platform:          types.PlatformTikTok,
		ExternalID:        u.UserID,
		Handle:            u.UniqueID,
		DisplayName:       u.Nickname,
		FollowerCount:     u.FollowerCount,
		Biography:         u.Signature,
		EnhancementStatus: types.EnhancementNotAttempted,
	}
}

func parseOffsetCursor(cursor string) (int, error) {
	if strings.TrimSpace(cursor) == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("malformed offset cursor %q", cursor)
	}
	return offset, nil
}
