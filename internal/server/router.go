package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/chamber/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/chamber/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/chamber/backend/internal/posts"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const userIDContextKey = "chamber_user_id"

var (
	errMissingGoogleVerifier  = errors.New("google verifier dependency required")
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingIdentityService = errors.New("identity service dependency required")
	errMissingPostsService    = errors.New("posts service dependency required")
	errMissingMetricsService  = errors.New("metrics service dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, claims auth.GoogleClaims) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type IdentityResolver interface {
	ResolveCanonicalUserID(claims auth.GoogleClaims) (string, error)
}

type Dependencies struct {
	GoogleVerifier GoogleVerifier
	TokenManager   BackendTokenManager
	Identities     IdentityResolver
	PostsService   *posts.Service
	MetricsService *metrics.Service
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.GoogleVerifier == nil {
		return nil, errMissingGoogleVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Identities == nil {
		return nil, errMissingIdentityService
	}
	if deps.PostsService == nil {
		return nil, errMissingPostsService
	}
	if deps.MetricsService == nil {
		return nil, errMissingMetricsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:       deps.GoogleVerifier,
		tokens:         deps.TokenManager,
		identities:     deps.Identities,
		postsService:   deps.PostsService,
		metricsService: deps.MetricsService,
		logger:         logger,
	}

	router.POST("/auth/google", handler.handleGoogleAuth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/posts", handler.handleListPosts)
	protected.GET("/posts/random", handler.handleRandomPosts)
	protected.POST("/posts", handler.handleCreatePost)
	protected.GET("/posts/me", handler.handleMyPosts)
	protected.GET("/posts/read", handler.handleReadPosts)
	protected.GET("/posts/:id", handler.handleGetPost)
	protected.GET("/metrics/today", handler.handleTodayMetrics)

	return router, nil
}

type httpHandler struct {
	verifier       GoogleVerifier
	tokens         BackendTokenManager
	identities     IdentityResolver
	postsService   *posts.Service
	metricsService *metrics.Service
	logger         *zap.Logger
}

type authRequestPayload struct {
	IDToken string `json:"id_token"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	memberID, err := h.identities.ResolveCanonicalUserID(claims)
	if err != nil {
		h.logger.Error("identity resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_resolution_failed"})
		return
	}

	backendClaims := claims
	backendClaims.Subject = memberID
	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), backendClaims)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	response := authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	}
	c.JSON(http.StatusOK, response)
}

type postPreviewPayload struct {
	PostID           string   `json:"post_id"`
	Title            string   `json:"title"`
	Type             string   `json:"type"`
	Views            int64    `json:"views"`
	Likes            int64    `json:"likes"`
	Tags             []string `json:"tags"`
	CreatedAtSeconds int64    `json:"created_at_s"`
}

type previewListPayload struct {
	Posts []postPreviewPayload `json:"posts"`
	Coin  int64                `json:"coin"`
}

type createPostRequestPayload struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Type    string   `json:"type"`
	Tags    []string `json:"tags"`
}

type weeklyProgressPayload struct {
	WeekStartSeconds int64   `json:"week_start_s"`
	Days             [7]bool `json:"days"`
	PostedDays       int     `json:"posted_days"`
}

type createPostResponsePayload struct {
	PostID     string                 `json:"post_id"`
	TotalPosts int64                  `json:"total_posts"`
	Coin       int64                  `json:"coin"`
	FirstToday bool                   `json:"first_today"`
	Weekly     *weeklyProgressPayload `json:"weekly,omitempty"`
}

type postDetailPayload struct {
	PostID           string   `json:"post_id"`
	Title            string   `json:"title"`
	Content          string   `json:"content"`
	Type             string   `json:"type"`
	Views            int64    `json:"views"`
	Likes            int64    `json:"likes"`
	Tags             []string `json:"tags"`
	CreatedAtSeconds int64    `json:"created_at_s"`
	Coin             int64    `json:"coin"`
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var list posts.PreviewList
	var err error
	if rawType := strings.TrimSpace(c.Query("type")); rawType != "" {
		postType, parseErr := posts.ParsePostType(rawType)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_type"})
			return
		}
		list, err = h.postsService.ListPreviewsByType(c.Request.Context(), postType, userID)
	} else {
		list, err = h.postsService.ListPreviews(c.Request.Context(), userID)
	}
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, previewListPayload{
		Posts: previewPayloads(list.Posts),
		Coin:  list.CoinBalance,
	})
}

func (h *httpHandler) handleRandomPosts(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	count := 3
	if rawCount := strings.TrimSpace(c.Query("count")); rawCount != "" {
		parsed, err := strconv.Atoi(rawCount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_count"})
			return
		}
		count = parsed
	}

	reroll := 0
	if rawReroll := strings.TrimSpace(c.Query("reroll")); rawReroll != "" {
		parsed, err := strconv.Atoi(rawReroll)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reroll"})
			return
		}
		reroll = parsed
	}

	list, err := h.postsService.RandomPreviews(c.Request.Context(), count, c.QueryArray("tags"), reroll, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, previewListPayload{
		Posts: previewPayloads(list.Posts),
		Coin:  list.CoinBalance,
	})
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var request createPostRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	postType, err := posts.ParsePostType(request.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_type"})
		return
	}

	result, err := h.postsService.CreatePost(c.Request.Context(), posts.CreateRequest{
		UserID:  userID,
		Title:   request.Title,
		Content: request.Content,
		Type:    postType,
		Tags:    request.Tags,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	response := createPostResponsePayload{
		PostID:     result.PostID,
		TotalPosts: result.TotalPosts,
		Coin:       result.CoinBalance,
		FirstToday: result.FirstToday,
	}
	if result.Weekly != nil {
		response.Weekly = &weeklyProgressPayload{
			WeekStartSeconds: result.Weekly.WeekStartSeconds,
			Days:             result.Weekly.Days,
			PostedDays:       result.Weekly.PostedDays,
		}
	}
	c.JSON(http.StatusCreated, response)
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}
	postID, err := posts.NewPostID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_post_id"})
		return
	}

	detail, err := h.postsService.GetPostByID(c.Request.Context(), postID, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, postDetailPayload{
		PostID:           detail.Post.ID,
		Title:            detail.Post.Title,
		Content:          detail.Post.Content,
		Type:             string(detail.Post.Type),
		Views:            detail.Post.Views,
		Likes:            detail.Post.Likes,
		Tags:             tagsOrEmpty(detail.Post.Tags),
		CreatedAtSeconds: detail.Post.CreatedAtSeconds,
		Coin:             detail.CoinBalance,
	})
}

func (h *httpHandler) handleMyPosts(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	mine, err := h.postsService.ListMine(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": previewPayloads(mine)})
}

func (h *httpHandler) handleReadPosts(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	list, err := h.postsService.ListRead(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, previewListPayload{
		Posts: previewPayloads(list.Posts),
		Coin:  list.CoinBalance,
	})
}

func (h *httpHandler) handleTodayMetrics(c *gin.Context) {
	snapshot, err := h.metricsService.Today(c.Request.Context())
	if err != nil {
		h.logger.Error("today metrics failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics_failed"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) requireUserID(c *gin.Context) (posts.UserID, bool) {
	userID, err := posts.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, posts.ErrPostNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "post_not_found"})
	case errors.Is(err, posts.ErrInsufficientCoin):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "not_enough_coin"})
	case errors.Is(err, posts.ErrInvalidContent), errors.Is(err, posts.ErrInvalidPostType), errors.Is(err, posts.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("posts service request failed", zap.Error(err))
		var serviceErr *posts.ServiceError
		if errors.As(err, &serviceErr) {
			c.JSON(http.StatusInternalServerError, gin.H{"code": serviceErr.Code()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func previewPayloads(found []posts.Post) []postPreviewPayload {
	payloads := make([]postPreviewPayload, 0, len(found))
	for _, post := range found {
		payloads = append(payloads, postPreviewPayload{
			PostID:           post.ID,
			Title:            post.Title,
			Type:             string(post.Type),
			Views:            post.Views,
			Likes:            post.Likes,
			Tags:             tagsOrEmpty(post.Tags),
			CreatedAtSeconds: post.CreatedAtSeconds,
		})
	}
	return payloads
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
