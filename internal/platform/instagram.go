package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const (
	stepCreateContainer  = "create_container"
	stepCreateCarousel   = "create_carousel"
	stepPublishContainer = "publish_container"
)

var (
	errMissingAccountID = errors.New("instagram adapter: target account id required")

	// ErrInstagramRequiresImage is raised when a publish request arrives
	// without media; the Instagram API cannot publish text-only posts.
	ErrInstagramRequiresImage = errors.New("instagram adapter: at least one image required")
)

// InstagramConfig configures the Instagram content-publishing adapter.
type InstagramConfig struct {
	BaseURL    string
	AccountID  string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// InstagramAdapter publishes posts to a single pre-configured Instagram
// business account via the two-phase container/publish flow: media
// containers are created per image, then one publish call makes the post
// visible. The API exposes no delete for published media.
type InstagramAdapter struct {
	baseURL   string
	accountID string
	client    *http.Client
	logger    *zap.Logger
}

// NewInstagramAdapter constructs the adapter with a bounded default timeout.
func NewInstagramAdapter(cfg InstagramConfig) (*InstagramAdapter, error) {
	if strings.TrimSpace(cfg.AccountID) == "" {
		return nil, errMissingAccountID
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultAdapterTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstagramAdapter{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accountID: cfg.AccountID,
		client:    client,
		logger:    logger,
	}, nil
}

// PlatformName reports the platform this adapter serves.
func (a *InstagramAdapter) PlatformName() Name {
	return NameInstagram
}

// Publish stages one container per image (a carousel parent for two or
// more), then publishes the container. All containers must exist before the
// publish call references them.
func (a *InstagramAdapter) Publish(ctx context.Context, access Access, req PublishRequest) (PublishResult, error) {
	if strings.TrimSpace(access.Token) == "" {
		return PublishResult{}, NewError(NameInstagram, ErrorKindNotLinked, stepCreateContainer,
			"no cached access token for the linked account", nil)
	}
	if len(req.ImageURLs) == 0 {
		return PublishResult{}, NewError(NameInstagram, ErrorKindPostFailed, stepCreateContainer,
			ErrInstagramRequiresImage.Error(), ErrInstagramRequiresImage)
	}

	containerID, err := a.stageContainers(ctx, access.Token, req)
	if err != nil {
		return PublishResult{}, err
	}

	form := url.Values{}
	form.Set("creation_id", containerID)
	form.Set("access_token", access.Token)

	var published struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/%s/media_publish", a.accountID)
	if err := a.postFormIG(ctx, path, form, stepPublishContainer, &published); err != nil {
		return PublishResult{}, err
	}

	link, err := a.permalink(ctx, access.Token, published.ID)
	if err != nil {
		a.logger.Warn("instagram permalink lookup failed", zap.String("media_id", published.ID), zap.Error(err))
		link = "https://www.instagram.com/p/" + published.ID
	}
	return PublishResult{ExternalID: published.ID, Link: link}, nil
}

func (a *InstagramAdapter) stageContainers(ctx context.Context, token string, req PublishRequest) (string, error) {
	if len(req.ImageURLs) == 1 {
		form := url.Values{}
		form.Set("image_url", req.ImageURLs[0])
		form.Set("caption", req.Message)
		form.Set("access_token", token)
		return a.createContainer(ctx, form, stepCreateContainer)
	}

	childIDs := make([]string, 0, len(req.ImageURLs))
	for index, imageURL := range req.ImageURLs {
		form := url.Values{}
		form.Set("image_url", imageURL)
		form.Set("is_carousel_item", "true")
		form.Set("access_token", token)
		childID, err := a.createContainer(ctx, form, fmt.Sprintf("%s[%d]", stepCreateContainer, index))
		if err != nil {
			return "", err
		}
		childIDs = append(childIDs, childID)
	}

	form := url.Values{}
	form.Set("media_type", "CAROUSEL")
	form.Set("children", strings.Join(childIDs, ","))
	form.Set("caption", req.Message)
	form.Set("access_token", token)
	return a.createContainer(ctx, form, stepCreateCarousel)
}

func (a *InstagramAdapter) createContainer(ctx context.Context, form url.Values, step string) (string, error) {
	var container struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/%s/media", a.accountID)
	if err := a.postFormIG(ctx, path, form, step, &container); err != nil {
		return "", err
	}
	return container.ID, nil
}

// Update edits the caption of a published media item.
func (a *InstagramAdapter) Update(ctx context.Context, access Access, externalID, message string) error {
	form := url.Values{}
	form.Set("comment_enabled", "true")
	form.Set("caption", message)
	form.Set("access_token", access.Token)

	var response struct {
		Success bool `json:"success"`
	}
	if err := a.postFormIG(ctx, "/"+externalID, form, stepUpdatePost, &response); err != nil {
		var adapterErr *Error
		if errors.As(err, &adapterErr) {
			adapterErr.Kind = ErrorKindUpdateFailed
		}
		return err
	}
	return nil
}

// Delete is not supported by the platform: the remote post is orphaned.
// Callers log the outcome and proceed with local deletion.
func (a *InstagramAdapter) Delete(_ context.Context, _ Access, externalID string) error {
	return NewError(NameInstagram, ErrorKindDeleteUnsupported, stepDeletePost,
		fmt.Sprintf("instagram exposes no delete; remote media %s is orphaned", externalID), nil)
}

func (a *InstagramAdapter) permalink(ctx context.Context, token, mediaID string) (string, error) {
	query := url.Values{}
	query.Set("fields", "permalink")
	query.Set("access_token", token)

	endpoint := fmt.Sprintf("%s/%s?%s", a.baseURL, mediaID, query.Encode())
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return "", err
	}
	response, err := a.client.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()
	if response.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("unexpected status %d", response.StatusCode)
	}
	var detail struct {
		Permalink string `json:"permalink"`
	}
	if err := decodeJSONBody(response, &detail); err != nil {
		return "", err
	}
	return detail.Permalink, nil
}

func (a *InstagramAdapter) postFormIG(ctx context.Context, path string, form url.Values, step string, out interface{}) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return NewError(NameInstagram, ErrorKindPostFailed, step, err.Error(), err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := a.client.Do(request)
	if err != nil {
		return NewError(NameInstagram, ErrorKindPostFailed, step, err.Error(), err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return a.igFailure(response, step)
	}
	if out == nil {
		return nil
	}
	return decodeJSONBody(response, out)
}

func (a *InstagramAdapter) igFailure(response *http.Response, step string) error {
	var envelope graphErrorEnvelope
	if err := decodeJSONBody(response, &envelope); err == nil && envelope.Error != nil {
		kind := ErrorKindPostFailed
		switch envelope.Error.Code {
		case graphErrTokenExpired:
			kind = ErrorKindTokenExpired
		case graphErrPermission:
			kind = ErrorKindNoPageAccess
		}
		if strings.HasPrefix(step, stepCreateContainer) || step == stepCreateCarousel {
			if kind == ErrorKindPostFailed {
				kind = ErrorKindUploadFailed
			}
		}
		return NewError(NameInstagram, kind, step, envelope.Error.Message, nil)
	}
	return NewError(NameInstagram, ErrorKindPostFailed, step,
		fmt.Sprintf("unexpected status %d", response.StatusCode), nil)
}
