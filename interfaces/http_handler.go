package interfaces

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"cv-recommender/domain"
)

const (
	headerUserID   = "X-User-Id"
	headerUserRole = "X-User-Role"

	RoleCandidate = "CANDIDATE"
	RoleEmployer  = "EMPLOYER"
	RoleAdmin     = "ADMIN"

	currentUserKey = "current_user"
)

var errMissingMatcher = errors.New("matcher is required")

// MatchService is the part of the matching engine the HTTP surface exposes.
type MatchService interface {
	Match(ctx context.Context, jobID, userID string, topK int) (*domain.MatchOutcome, error)
	ListBatches(ctx context.Context, requester domain.Requester, jobID string, limit int) ([]domain.RecommendBatch, error)
	GetBatchDetail(ctx context.Context, batchID string) (*domain.BatchDetail, error)
}

type Dependencies struct {
	Matcher MatchService
	Logger  *zap.Logger
}

// CurrentUser is the identity the gateway forwards in request headers.
type CurrentUser struct {
	UserID string
	Roles  []string
}

func (u CurrentUser) HasRole(roles ...string) bool {
	for _, have := range u.Roles {
		for _, want := range roles {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

func (u CurrentUser) Elevated() bool { return u.HasRole(RoleAdmin) }

// NewHTTPHandler builds the recommend-service router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Matcher == nil {
		return nil, errMissingMatcher
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("cv-recommender"))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", headerUserID, headerUserRole},
		MaxAge:       12 * time.Hour,
	}))

	h := &httpHandler{matcher: deps.Matcher, logger: logger.Named("http")}

	api := router.Group("/api/recommend-service")
	api.GET("/health", h.handleHealth)

	protected := api.Group("/")
	protected.Use(h.authenticate)
	protected.GET("/match/:job_id", h.requireRoles(RoleEmployer, RoleAdmin), h.handleMatch)
	protected.GET("/batches", h.requireRoles(RoleEmployer, RoleAdmin), h.handleListBatches)
	protected.GET("/batches/:batch_id", h.requireRoles(RoleEmployer, RoleAdmin), h.handleBatchDetail)

	return router, nil
}

type httpHandler struct {
	matcher MatchService
	logger  *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authenticate reads the gateway headers; both must be present.
func (h *httpHandler) authenticate(c *gin.Context) {
	userID := strings.TrimSpace(c.GetHeader(headerUserID))
	rawRoles := strings.TrimSpace(c.GetHeader(headerUserRole))
	if userID == "" || rawRoles == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "missing authentication headers (X-User-Id and X-User-Role)",
		})
		return
	}

	var roles []string
	for _, r := range strings.Split(rawRoles, ",") {
		if r = strings.ToUpper(strings.TrimSpace(r)); r != "" {
			roles = append(roles, r)
		}
	}
	c.Set(currentUserKey, CurrentUser{UserID: userID, Roles: roles})
	c.Next()
}

func (h *httpHandler) requireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if !user.HasRole(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) CurrentUser {
	if v, ok := c.Get(currentUserKey); ok {
		if u, ok := v.(CurrentUser); ok {
			return u
		}
	}
	return CurrentUser{}
}

func (h *httpHandler) handleMatch(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("job_id"))
	topK, ok := intQuery(c, "top_k")
	if !ok {
		return
	}

	user := currentUser(c)
	outcome, err := h.matcher.Match(c.Request.Context(), jobID, user.UserID, topK)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *httpHandler) handleListBatches(c *gin.Context) {
	jobID := strings.TrimSpace(c.Query("job_id"))
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id is required"})
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}

	user := currentUser(c)
	requester := domain.Requester{UserID: user.UserID, Elevated: user.Elevated()}
	batches, err := h.matcher.ListBatches(c.Request.Context(), requester, jobID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if batches == nil {
		batches = []domain.RecommendBatch{}
	}
	c.JSON(http.StatusOK, batches)
}

func (h *httpHandler) handleBatchDetail(c *gin.Context) {
	batchID := strings.TrimSpace(c.Param("batch_id"))
	detail, err := h.matcher.GetBatchDetail(c.Request.Context(), batchID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	user := currentUser(c)
	if !user.Elevated() && detail.UserID != user.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.JSON(http.StatusOK, detail)
}

// intQuery parses an optional integer query parameter; 0 means absent.
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return v, true
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case domain.KindValidationDropped:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case domain.KindRemoteFailure:
		h.logger.Error("upstream failure", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_failure"})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database_error"})
	}
}
