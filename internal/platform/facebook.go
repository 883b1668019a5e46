package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultGraphBaseURL    = "https://graph.facebook.com/v19.0"
	defaultAdapterTimeout  = 15 * time.Second
	stepResolveAccounts    = "resolve_accounts"
	stepUploadPhoto        = "upload_photo"
	stepCreatePost         = "create_post"
	stepCreatePhoto        = "create_photo"
	stepUpdatePost         = "update_post"
	stepDeletePost         = "delete_post"
	stepFetchPermalink     = "fetch_permalink"
	graphErrTokenExpired   = 190
	graphErrPermission     = 200
	facebookPermalinkField = "permalink_url"
)

var errMissingPageID = errors.New("facebook adapter: target page id required")

// FacebookConfig configures the Facebook Graph adapter.
type FacebookConfig struct {
	BaseURL    string
	PageID     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// FacebookAdapter publishes posts to a single pre-configured Facebook page
// through the Graph API.
type FacebookAdapter struct {
	baseURL string
	pageID  string
	client  *http.Client
	logger  *zap.Logger
}

// NewFacebookAdapter constructs the adapter. A bounded per-call timeout is
// applied when the caller does not supply its own client.
func NewFacebookAdapter(cfg FacebookConfig) (*FacebookAdapter, error) {
	if strings.TrimSpace(cfg.PageID) == "" {
		return nil, errMissingPageID
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
	return &FacebookAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		pageID:  cfg.PageID,
		client:  client,
		logger:  logger,
	}, nil
}

// PlatformName reports the platform this adapter serves.
func (a *FacebookAdapter) PlatformName() Name {
	return NameFacebook
}

type graphError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type graphErrorEnvelope struct {
	Error *graphError `json:"error"`
}

type graphAccount struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

type graphAccountList struct {
	Data []graphAccount `json:"data"`
}

// resolvePageToken validates the operator's token against the configured
// page before any write. It fails fast with a descriptive error that lists
// the pages the token does grant, to aid operator self-service.
func (a *FacebookAdapter) resolvePageToken(ctx context.Context, access Access) (string, error) {
	if strings.TrimSpace(access.Token) == "" {
		return "", NewError(NameFacebook, ErrorKindNotLinked, stepResolveAccounts,
			"no cached access token for the linked account", nil)
	}

	query := url.Values{}
	query.Set("access_token", access.Token)
	query.Set("fields", "id,name,access_token")

	var accounts graphAccountList
	if err := a.getJSON(ctx, "/me/accounts?"+query.Encode(), stepResolveAccounts, &accounts); err != nil {
		return "", err
	}

	granted := make([]string, 0, len(accounts.Data))
	for _, account := range accounts.Data {
		if account.ID == a.pageID {
			return account.AccessToken, nil
		}
		granted = append(granted, fmt.Sprintf("%s (%s)", account.Name, account.ID))
	}

	diagnostic := fmt.Sprintf("token does not grant access to page %s; granted pages: %s",
		a.pageID, strings.Join(granted, ", "))
	if len(granted) == 0 {
		diagnostic = fmt.Sprintf("token does not grant access to page %s and grants no pages at all", a.pageID)
	}
	return "", NewError(NameFacebook, ErrorKindNoPageAccess, stepResolveAccounts, diagnostic, nil)
}

// Publish selects one of three call sequences depending on image count:
// a plain feed post, a single published photo, or N unpublished photo
// uploads followed by one feed post referencing them as attached media.
func (a *FacebookAdapter) Publish(ctx context.Context, access Access, req PublishRequest) (PublishResult, error) {
	pageToken, err := a.resolvePageToken(ctx, access)
	if err != nil {
		return PublishResult{}, err
	}

	switch len(req.ImageURLs) {
	case 0:
		return a.publishTextOnly(ctx, pageToken, req.Message)
	case 1:
		return a.publishSinglePhoto(ctx, pageToken, req.Message, req.ImageURLs[0])
	default:
		return a.publishMultiPhoto(ctx, pageToken, req.Message, req.ImageURLs)
	}
}

func (a *FacebookAdapter) publishTextOnly(ctx context.Context, pageToken, message string) (PublishResult, error) {
	form := url.Values{}
	form.Set("message", message)
	form.Set("access_token", pageToken)

	var created struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/%s/feed", a.pageID)
	if err := a.postForm(ctx, path, form, stepCreatePost, ErrorKindPostFailed, &created); err != nil {
		return PublishResult{}, err
	}
	return a.resultWithPermalink(ctx, pageToken, created.ID)
}

func (a *FacebookAdapter) publishSinglePhoto(ctx context.Context, pageToken, message, imageURL string) (PublishResult, error) {
	form := url.Values{}
	form.Set("url", imageURL)
	form.Set("caption", message)
	form.Set("access_token", pageToken)

	var created struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	path := fmt.Sprintf("/%s/photos", a.pageID)
	if err := a.postForm(ctx, path, form, stepCreatePhoto, ErrorKindPostFailed, &created); err != nil {
		return PublishResult{}, err
	}
	externalID := created.PostID
	if externalID == "" {
		externalID = created.ID
	}
	return a.resultWithPermalink(ctx, pageToken, externalID)
}

// publishMultiPhoto uploads every image unpublished first because the Graph
// API has no single create-post-with-N-attachments call: attachments must
// exist before the feed post that references them.
func (a *FacebookAdapter) publishMultiPhoto(ctx context.Context, pageToken, message string, imageURLs []string) (PublishResult, error) {
	photoIDs := make([]string, 0, len(imageURLs))
	for index, imageURL := range imageURLs {
		form := url.Values{}
		form.Set("url", imageURL)
		form.Set("published", "false")
		form.Set("access_token", pageToken)

		var uploaded struct {
			ID string `json:"id"`
		}
		path := fmt.Sprintf("/%s/photos", a.pageID)
		if err := a.postForm(ctx, path, form, stepUploadPhoto, ErrorKindUploadFailed, &uploaded); err != nil {
			var adapterErr *Error
			if errors.As(err, &adapterErr) {
				adapterErr.Step = fmt.Sprintf("%s[%d]", stepUploadPhoto, index)
			}
			return PublishResult{}, err
		}
		photoIDs = append(photoIDs, uploaded.ID)
	}

	form := url.Values{}
	form.Set("message", message)
	form.Set("access_token", pageToken)
	for index, photoID := range photoIDs {
		form.Set(fmt.Sprintf("attached_media[%d]", index), fmt.Sprintf(`{"media_fbid":"%s"}`, photoID))
	}

	var created struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/%s/feed", a.pageID)
	if err := a.postForm(ctx, path, form, stepCreatePost, ErrorKindPostFailed, &created); err != nil {
		return PublishResult{}, err
	}
	return a.resultWithPermalink(ctx, pageToken, created.ID)
}

// Update re-resolves access exactly as Publish does, then edits the message
// body. Attached media are not touched.
func (a *FacebookAdapter) Update(ctx context.Context, access Access, externalID, message string) error {
	pageToken, err := a.resolvePageToken(ctx, access)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("message", message)
	form.Set("access_token", pageToken)

	var response struct {
		Success bool `json:"success"`
	}
	return a.postForm(ctx, "/"+externalID, form, stepUpdatePost, ErrorKindUpdateFailed, &response)
}

// Delete issues a single remote delete by external id. The caller treats the
// outcome as best-effort.
func (a *FacebookAdapter) Delete(ctx context.Context, access Access, externalID string) error {
	pageToken, err := a.resolvePageToken(ctx, access)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/%s?access_token=%s", a.baseURL, externalID, url.QueryEscape(pageToken))
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, http.NoBody)
	if err != nil {
		return NewError(NameFacebook, ErrorKindDeleteFailed, stepDeletePost, err.Error(), err)
	}
	response, err := a.client.Do(request)
	if err != nil {
		return NewError(NameFacebook, ErrorKindDeleteFailed, stepDeletePost, err.Error(), err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return a.graphFailure(response, stepDeletePost, ErrorKindDeleteFailed)
	}
	return nil
}

func (a *FacebookAdapter) resultWithPermalink(ctx context.Context, pageToken, externalID string) (PublishResult, error) {
	query := url.Values{}
	query.Set("fields", facebookPermalinkField)
	query.Set("access_token", pageToken)

	var detail struct {
		PermalinkURL string `json:"permalink_url"`
	}
	// The post already exists at this point; a permalink lookup failure is
	// not a publish failure, the id alone is a usable handle.
	if err := a.getJSON(ctx, "/"+externalID+"?"+query.Encode(), stepFetchPermalink, &detail); err != nil {
		a.logger.Warn("facebook permalink lookup failed", zap.String("external_id", externalID), zap.Error(err))
		return PublishResult{ExternalID: externalID, Link: "https://www.facebook.com/" + externalID}, nil
	}
	link := detail.PermalinkURL
	if link == "" {
		link = "https://www.facebook.com/" + externalID
	}
	return PublishResult{ExternalID: externalID, Link: link}, nil
}

func (a *FacebookAdapter) getJSON(ctx context.Context, pathAndQuery, step string, out interface{}) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+pathAndQuery, http.NoBody)
	if err != nil {
		return NewError(NameFacebook, ErrorKindPostFailed, step, err.Error(), err)
	}
	response, err := a.client.Do(request)
	if err != nil {
		return NewError(NameFacebook, ErrorKindPostFailed, step, err.Error(), err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return a.graphFailure(response, step, ErrorKindPostFailed)
	}
	return json.NewDecoder(response.Body).Decode(out)
}

func (a *FacebookAdapter) postForm(ctx context.Context, path string, form url.Values, step string, failureKind ErrorKind, out interface{}) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return NewError(NameFacebook, failureKind, step, err.Error(), err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := a.client.Do(request)
	if err != nil {
		return NewError(NameFacebook, failureKind, step, err.Error(), err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return a.graphFailure(response, step, failureKind)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

// graphFailure maps Graph error payloads onto the adapter taxonomy,
// preserving the remote diagnostic verbatim.
func (a *FacebookAdapter) graphFailure(response *http.Response, step string, fallbackKind ErrorKind) error {
	body, _ := io.ReadAll(io.LimitReader(response.Body, 1<<16))

	var envelope graphErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		kind := fallbackKind
		switch envelope.Error.Code {
		case graphErrTokenExpired:
			kind = ErrorKindTokenExpired
		case graphErrPermission:
			kind = ErrorKindNoPageAccess
		}
		return NewError(NameFacebook, kind, step, envelope.Error.Message, nil)
	}
	diagnostic := fmt.Sprintf("unexpected status %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	return NewError(NameFacebook, fallbackKind, step, diagnostic, nil)
}
