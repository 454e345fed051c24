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

// youtubeHandler paginates with the provider's page token cursor.
type youtubeHandler struct {
	log      *logger.Logger
	api      *apiClient
	pageSize int
}

func NewYouTubeHandler(log *logger.Logger, tuning config.PlatformTuning) Handler {
	return &youtubeHandler{
		log:      log.With("handler", "YouTubeHandler"),
		api:      newAPIClient(log, types.PlatformYouTube, clientConfigFromEnv(types.PlatformYouTube, tuning.RequestTimeout())),
		pageSize: tuning.PageSize,
	}
}

type youtubeChannel struct {
	ChannelID       string `json:"channel_id"`
	Handle          string `json:"handle"`
	Title           string `json:"title"`
	SubscriberCount int64  `json:"subscriber_count"`
	Description     string `json:"description"`
}

type youtubeSearchResponse struct {
	Channels      []youtubeChannel `json:"channels"`
	NextPageToken string           `json:"next_page_token"`
}

type youtubeProfileResponse struct {
	Channel youtubeChannel `json:"channel"`
}

func (h *youtubeHandler) Platform() string { return types.PlatformYouTube }

func (h *youtubeHandler) FetchPage(ctx context.Context, params SearchParams, cursor string) (*Page, error) {
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = h.pageSize
	}

	q := url.Values{}
	q.Set("max_results", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("page_token", cursor)
	}

	var path string
	switch params.Mode {
	case types.SearchModeSimilar:
		path = "/v1/youtube/similar"
		q.Set("handle", strings.TrimPrefix(params.TargetHandle, "@"))
	default:
		path = "/v1/youtube/search"
		q.Set("query", strings.Join(params.Keywords, " "))
	}

	var resp youtubeSearchResponse
	if err := h.api.getJSON(ctx, path, q, &resp); err != nil {
		return nil, err
	}

	page := &Page{
		NextCursor: resp.NextPageToken,
		Exhausted:  resp.NextPageToken == "" || len(resp.Channels) == 0,
	}
	if page.Exhausted {
		page.NextCursor = cursor
	}
	for _, c := range resp.Channels {
		page.Records = append(page.Records, youtubeProfileOf(c))
	}
	return page, nil
}

func (h *youtubeHandler) FetchProfile(ctx context.Context, externalID string) (*CreatorProfile, error) {
	q := url.Values{}
	q.Set("channel_id", externalID)
	var resp youtubeProfileResponse
	if err := h.api.getJSON(ctx, "/v1/youtube/channel", q, &resp); err != nil {
		return nil, err
	}
	p := youtubeProfileOf(resp.Channel)
	return &p, nil
}

func (h *youtubeHandler) FetchProfileByHandle(ctx context.Context, handle string) (*CreatorProfile, error) {
	q := url.Values{}
	q.Set("handle", strings.TrimPrefix(handle, "@"))
	var resp youtubeProfileResponse
	if err := h.api.getJSON(ctx, "/v1/youtube/channel", q, &resp); err != nil {
		return nil, err
	}
	p := youtubeProfileOf(resp.Channel)
	return &p, nil
}

func youtubeProfileOf(c youtubeChannel) CreatorProfile {
	return CreatorProfile{
		Platform:          types.PlatformYouTube,
		ExternalID:        c.ChannelID,
		Handle:            c.Handle,
		DisplayName:       c.Title,
		FollowerCount:     c.SubscriberCount,
		Biography:         c.Description,
		EnhancementStatus: types.EnhancementNotAttempted,
	}
}
