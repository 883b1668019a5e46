package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRequestTimeout = 10 * time.Second

var errMissingEndpoint = errors.New("translate: endpoint required")

// Result carries the translated text and the locale the service detected.
type Result struct {
	Text                 string
	DetectedSourceLocale string
}

// Translator converts text into a target locale. Implementations are
// best-effort collaborators: callers fall back to the source text on error.
type Translator interface {
	Translate(ctx context.Context, text, targetLocale string) (Result, error)
}

// HTTPClientConfig configures the translation service client.
type HTTPClientConfig struct {
	Endpoint   string
	AuthKey    string
	HTTPClient *http.Client
}

// HTTPClient speaks a DeepL-shaped translation REST endpoint.
type HTTPClient struct {
	endpoint string
	authKey  string
	client   *http.Client
}

// NewHTTPClient constructs the client with a bounded default timeout.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errMissingEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &HTTPClient{
		endpoint: cfg.Endpoint,
		authKey:  cfg.AuthKey,
		client:   client,
	}, nil
}

// Translate sends the text to the translation service and returns its
// translation along with the detected source locale.
func (c *HTTPClient) Translate(ctx context.Context, text, targetLocale string) (Result, error) {
	form := url.Values{}
	form.Set("text", text)
	form.Set("target_lang", strings.ToUpper(targetLocale))

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, err
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.authKey != "" {
		request.Header.Set("Authorization", "DeepL-Auth-Key "+c.authKey)
	}

	response, err := c.client.Do(request)
	if err != nil {
		return Result{}, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("translate: unexpected status %d", response.StatusCode)
	}

	var payload struct {
		Translations []struct {
			DetectedSourceLanguage string `json:"detected_source_language"`
			Text                   string `json:"text"`
		} `json:"translations"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return Result{}, err
	}
	if len(payload.Translations) == 0 {
		return Result{}, errors.New("translate: empty translation response")
	}
	return Result{
		Text:                 payload.Translations[0].Text,
		DetectedSourceLocale: payload.Translations[0].DetectedSourceLanguage,
	}, nil
}
