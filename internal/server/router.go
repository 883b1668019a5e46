package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lumeoagency/newsdesk/backend/internal/auth"
	"github.com/lumeoagency/newsdesk/backend/internal/news"
	"github.com/lumeoagency/newsdesk/backend/internal/notify"
	"github.com/lumeoagency/newsdesk/backend/internal/platform"
	"github.com/lumeoagency/newsdesk/backend/internal/realtime"
	"github.com/lumeoagency/newsdesk/backend/internal/users"
)

const (
	claimsContextKey = "newsdesk_claims"

	maxImageBytes = 10 << 20
)

var (
	errMissingValidator     = errors.New("session validator dependency required")
	errMissingNewsService   = errors.New("news service dependency required")
	errMissingNotifyService = errors.New("notify service dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
)

// SessionValidator validates session tokens minted by the identity provider.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	ValidateToken(token string) (auth.SessionClaims, error)
	CookieName() string
}

// Dependencies wires the HTTP layer to the domain services.
type Dependencies struct {
	Validator     SessionValidator
	NewsService   *news.Service
	NotifyService *notify.Service
	UsersService  *users.Service
	Dispatcher    *realtime.Dispatcher
	Logger        *zap.Logger
}

// NewHTTPHandler builds the API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Validator == nil {
		return nil, errMissingValidator
	}
	if deps.NewsService == nil {
		return nil, errMissingNewsService
	}
	if deps.NotifyService == nil {
		return nil, errMissingNotifyService
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = realtime.NewDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		validator:  deps.Validator,
		newsSvc:    deps.NewsService,
		notifySvc:  deps.NotifyService,
		usersSvc:   deps.UsersService,
		dispatcher: dispatcher,
		logger:     logger,
	}

	router.POST("/api/auth/session", handler.handleSessionExchange)
	router.POST("/api/requests", handler.handleInboundRequest)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.POST("/news", handler.handleComposeNews)
	protected.GET("/news", handler.handleListNews)
	protected.GET("/news/:id", handler.handleGetNews)
	protected.PATCH("/news/:id", handler.handleUpdateNews)
	protected.DELETE("/news/:id", handler.handleDeleteNews)

	protected.GET("/notifications", handler.handleListNotifications)
	protected.GET("/notifications/unread-count", handler.handleUnreadCount)
	protected.POST("/notifications/:id/read", handler.handleMarkRead)
	protected.POST("/notifications/read-all", handler.handleMarkAllRead)

	protected.POST("/push/subscriptions", handler.handlePushSubscribe)
	protected.DELETE("/push/subscriptions", handler.handlePushUnsubscribe)
	protected.PUT("/push/preference", handler.handlePushPreference)

	protected.POST("/platform/links", handler.handleLinkAccount)

	protected.GET("/events/stream", handler.handleEventStream)

	return router, nil
}

type httpHandler struct {
	validator  SessionValidator
	newsSvc    *news.Service
	notifySvc  *notify.Service
	usersSvc   *users.Service
	dispatcher *realtime.Dispatcher
	logger     *zap.Logger
}

type sessionExchangePayload struct {
	Token string `json:"token"`
}

// handleSessionExchange trades a provider-issued token for the session
// cookie the console relies on, registering the operator on the way.
func (h *httpHandler) handleSessionExchange(c *gin.Context) {
	var request sessionExchangePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.validator.ValidateToken(request.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	h.syncOperator(c, claims)

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.validator.CookieName(), request.Token, 0, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{
		"operator_id":  claims.OperatorID,
		"display_name": claims.DisplayName,
		"roles":        claims.Roles,
	})
}

// authorizeRequest validates the session and keeps the operator row in step
// with the identity provider's claims.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	h.syncOperator(c, claims)

	c.Set(claimsContextKey, claims)
	c.Next()
}

func (h *httpHandler) syncOperator(c *gin.Context, claims auth.SessionClaims) {
	role := users.RoleEditor
	if len(claims.Roles) > 0 {
		role = claims.Roles[0]
	}
	if err := h.usersSvc.Ensure(c.Request.Context(), users.Operator{
		ID:          claims.OperatorID,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		Role:        role,
	}); err != nil {
		h.logger.Warn("failed to sync operator from session claims", zap.Error(err))
	}
}

func sessionClaims(c *gin.Context) auth.SessionClaims {
	value, _ := c.Get(claimsContextKey)
	claims, _ := value.(auth.SessionClaims)
	return claims
}

func formValue(values map[string][]string, key string) string {
	if fields := values[key]; len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

func (h *httpHandler) handleComposeNews(c *gin.Context) {
	claims := sessionClaims(c)

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	request := news.ComposeRequest{
		CreatorID: claims.OperatorID,
		Body:      formValue(form.Value, "body"),
		Targets: news.Targets{
			Facebook:  formValue(form.Value, "facebook") == "true",
			Instagram: formValue(form.Value, "instagram") == "true",
		},
	}

	for _, header := range form.File["images"] {
		if header.Size > maxImageBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image_too_large"})
			return
		}
		file, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_image"})
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_image"})
			return
		}
		request.Images = append(request.Images, news.ImageUpload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	result, err := h.newsSvc.Compose(c.Request.Context(), request)
	switch {
	case errors.Is(err, news.ErrEmptyBody), errors.Is(err, news.ErrInstagramNeedsImage):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("compose failed", zap.Error(err))
		c.JSON(platformErrorStatus(err), gin.H{"error": err.Error(), "result": result})
		return
	}

	h.fanOutPublished(c, claims, result)
	h.publishStatusEvents(claims.OperatorID, result)

	c.JSON(http.StatusCreated, result)
}

// fanOutPublished notifies every operator about the new post. Fan-out
// failures never surface to the publishing operator.
func (h *httpHandler) fanOutPublished(c *gin.Context, claims auth.SessionClaims, result news.ComposeResult) {
	label := claims.DisplayName
	if label == "" {
		label = claims.Email
	}
	_, err := h.notifySvc.FanOut(c.Request.Context(), notify.Event{
		SourceID:  result.PostID,
		Label:     label + " published a news post",
		EventType: notify.EventTypeNewsPublished,
		Roles:     []string{users.RoleAdmin, users.RoleEditor, users.RoleMarketing},
		URL:       "/news/" + result.PostID,
	})
	if err != nil {
		h.logger.Warn("notification fan-out failed", zap.String("post_id", result.PostID), zap.Error(err))
	}
}

// publishStatusEvents streams per-platform outcomes back to the creator's
// open console session.
func (h *httpHandler) publishStatusEvents(creatorID string, result news.ComposeResult) {
	for _, outcome := range result.Outcomes {
		if outcome.Status == news.OutcomeSkipped {
			continue
		}
		h.dispatcher.Publish(realtime.Message{
			RecipientID: creatorID,
			EventType:   realtime.EventPostStatusChanged,
			SourceID:    result.PostID,
			Payload:     string(outcome.Platform) + ":" + string(outcome.Status),
			Timestamp:   time.Now().UTC(),
		})
	}
}

func (h *httpHandler) handleListNews(c *gin.Context) {
	page, pageSize := pageParams(c)
	posts, total, err := h.newsSvc.List(c.Request.Context(), page, pageSize)
	if err != nil {
		h.logger.Error("failed to list posts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts, "total": total})
}

func (h *httpHandler) handleGetNews(c *gin.Context) {
	post, err := h.newsSvc.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, news.ErrPostNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load post", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load_failed"})
		return
	}
	c.JSON(http.StatusOK, post)
}

type updateNewsPayload struct {
	Body string `json:"body"`
}

func (h *httpHandler) handleUpdateNews(c *gin.Context) {
	claims := sessionClaims(c)

	var request updateNewsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	post, err := h.newsSvc.UpdateBody(c.Request.Context(), c.Param("id"), claims.OperatorID, request.Body)
	switch {
	case errors.Is(err, news.ErrPostNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	case errors.Is(err, news.ErrEmptyBody):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("failed to update post", zap.Error(err))
		c.JSON(platformErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *httpHandler) handleDeleteNews(c *gin.Context) {
	claims := sessionClaims(c)

	err := h.newsSvc.Delete(c.Request.Context(), c.Param("id"), claims.OperatorID)
	if errors.Is(err, news.ErrPostNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to delete post", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type inboundRequestPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// handleInboundRequest is the one public endpoint: visitor submissions fan
// out to administrative operators.
func (h *httpHandler) handleInboundRequest(c *gin.Context) {
	var request inboundRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	label := "New inbound request"
	if name := strings.TrimSpace(request.Name); name != "" {
		label = "New inbound request from " + name
	}
	result, err := h.notifySvc.FanOut(c.Request.Context(), notify.Event{
		SourceID:  c.GetHeader("X-Request-Id"),
		Label:     label,
		EventType: notify.EventTypeInboundRequest,
		Roles:     []string{users.RoleAdmin, users.RoleEditor},
		URL:       "/requests",
	})
	if err != nil {
		h.logger.Error("inbound request fan-out failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fanout_failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"notified": result.RecordsCreated})
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	claims := sessionClaims(c)
	page, pageSize := pageParams(c)

	records, total, err := h.notifySvc.ListForRecipient(c.Request.Context(), claims.OperatorID, page, pageSize)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": records, "total": total})
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	claims := sessionClaims(c)

	count, err := h.notifySvc.UnreadCount(c.Request.Context(), claims.OperatorID)
	if err != nil {
		h.logger.Error("failed to count unread notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	claims := sessionClaims(c)

	err := h.notifySvc.MarkRead(c.Request.Context(), claims.OperatorID, c.Param("id"))
	if errors.Is(err, notify.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to mark notification read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mark_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleMarkAllRead(c *gin.Context) {
	claims := sessionClaims(c)

	if err := h.notifySvc.MarkAllRead(c.Request.Context(), claims.OperatorID); err != nil {
		h.logger.Error("failed to mark notifications read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mark_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type pushSubscriptionPayload struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (h *httpHandler) handlePushSubscribe(c *gin.Context) {
	claims := sessionClaims(c)

	var request pushSubscriptionPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Endpoint) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.notifySvc.Subscribe(c.Request.Context(), notify.PushRegistration{
		Endpoint:    request.Endpoint,
		RecipientID: claims.OperatorID,
		P256dh:      request.Keys.P256dh,
		Auth:        request.Keys.Auth,
	})
	if err != nil {
		h.logger.Error("failed to store push registration", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type pushUnsubscribePayload struct {
	Endpoint string `json:"endpoint"`
}

func (h *httpHandler) handlePushUnsubscribe(c *gin.Context) {
	var request pushUnsubscribePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Endpoint) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.notifySvc.Unsubscribe(c.Request.Context(), request.Endpoint); err != nil {
		h.logger.Error("failed to remove push registration", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unsubscribe_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type pushPreferencePayload struct {
	PushEnabled *bool `json:"push_enabled"`
}

func (h *httpHandler) handlePushPreference(c *gin.Context) {
	claims := sessionClaims(c)

	var request pushPreferencePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.PushEnabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.notifySvc.SetPreference(c.Request.Context(), claims.OperatorID, *request.PushEnabled); err != nil {
		h.logger.Error("failed to store push preference", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "preference_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type linkAccountPayload struct {
	Platform        string `json:"platform"`
	RemoteAccountID string `json:"remote_account_id"`
	AccessToken     string `json:"access_token"`
}

func (h *httpHandler) handleLinkAccount(c *gin.Context) {
	claims := sessionClaims(c)

	var request linkAccountPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	platformName := platform.Name(strings.ToLower(strings.TrimSpace(request.Platform)))
	if platformName != platform.NameFacebook && platformName != platform.NameInstagram {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_platform"})
		return
	}

	err := h.usersSvc.Link(c.Request.Context(), users.LinkedAccount{
		OperatorID:      claims.OperatorID,
		Platform:        string(platformName),
		RemoteAccountID: request.RemoteAccountID,
		AccessToken:     request.AccessToken,
	})
	if err != nil {
		h.logger.Error("failed to link platform account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "link_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// platformErrorStatus maps adapter failure kinds onto HTTP statuses.
func platformErrorStatus(err error) int {
	kind, ok := platform.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case platform.ErrorKindNotLinked:
		return http.StatusConflict
	case platform.ErrorKindTokenExpired, platform.ErrorKindNoPageAccess:
		return http.StatusForbidden
	case platform.ErrorKindDeleteUnsupported:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusBadGateway
	}
}
