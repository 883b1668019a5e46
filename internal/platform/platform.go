package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Name identifies a supported social platform.
type Name string

const (
	NameFacebook  Name = "facebook"
	NameInstagram Name = "instagram"
)

// ErrorKind classifies adapter failures so the orchestrator can decide
// which ones to absorb and which ones to propagate.
type ErrorKind string

const (
	ErrorKindNotLinked         ErrorKind = "not_linked"
	ErrorKindTokenExpired      ErrorKind = "token_expired"
	ErrorKindNoPageAccess      ErrorKind = "no_page_access"
	ErrorKindUploadFailed      ErrorKind = "upload_failed"
	ErrorKindPostFailed        ErrorKind = "post_failed"
	ErrorKindUpdateFailed      ErrorKind = "update_failed"
	ErrorKindDeleteFailed      ErrorKind = "delete_failed"
	ErrorKindDeleteUnsupported ErrorKind = "delete_unsupported"
)

// Error carries the platform's own diagnostic text alongside a stable kind.
// The adapter never downgrades a failure; callers apply policy.
type Error struct {
	Kind       ErrorKind
	Platform   Name
	Step       string
	Diagnostic string
	cause      error
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("%s: %s", e.Platform, e.Kind)}
	if e.Step != "" {
		parts = append(parts, fmt.Sprintf("step=%s", e.Step))
	}
	if e.Diagnostic != "" {
		parts = append(parts, e.Diagnostic)
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError constructs a typed adapter error.
func NewError(platformName Name, kind ErrorKind, step, diagnostic string, cause error) *Error {
	return &Error{Kind: kind, Platform: platformName, Step: step, Diagnostic: diagnostic, cause: cause}
}

// KindOf extracts the ErrorKind from an adapter error chain.
func KindOf(err error) (ErrorKind, bool) {
	var adapterErr *Error
	if errors.As(err, &adapterErr) {
		return adapterErr.Kind, true
	}
	return "", false
}

// Access is the resolved credential pair an adapter needs to act on behalf
// of an operator: the cached bearer token and the target account id.
type Access struct {
	Token     string
	AccountID string
}

// PublishRequest describes a generic publish intent. ImageURLs are publicly
// reachable object-storage URLs in display order.
type PublishRequest struct {
	Message   string
	ImageURLs []string
}

// PublishResult is the stable handle a successful publish leaves behind.
type PublishResult struct {
	ExternalID string
	Link       string
}

// DeleteOutcome reports the result of a best-effort remote delete.
type DeleteOutcome struct {
	Platform   Name
	ExternalID string
	Deleted    bool
	Err        error
}

// DeleteObserver receives delete outcomes that callers do not act on.
type DeleteObserver func(DeleteOutcome)

func decodeJSONBody(response *http.Response, out interface{}) error {
	return json.NewDecoder(io.LimitReader(response.Body, 1<<20)).Decode(out)
}

// Publisher translates generic publish/update/delete intents into one
// platform's call sequence.
type Publisher interface {
	PlatformName() Name
	Publish(ctx context.Context, access Access, req PublishRequest) (PublishResult, error)
	Update(ctx context.Context, access Access, externalID, message string) error
	Delete(ctx context.Context, access Access, externalID string) error
}
