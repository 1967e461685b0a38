package registry

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"
	zap "go.uber.org/zap"
)

// Handler serves the catalog read API.
type Handler struct {
	store  CardStore
	logger *zap.Logger
}

// NewHandler creates a catalog handler over the given store.
func NewHandler(store CardStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// Register mounts the read routes on the router.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/agent-cards", h.handleList)
	r.GET("/agent-cards/by-id/*hri", h.handleGetByHRI)
	r.GET("/agent-cards/:uuid", h.handleGetByUUID)
}

// Router builds a standalone engine serving the catalog plus a health
// endpoint.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	h.Register(r)
	return r
}

func (h *Handler) handleList(c *gin.Context) {
	query := ListQuery{
		Search:  c.Query("search"),
		TEEType: c.Query("tee_type"),
	}

	if tags := c.Query("tags"); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				query.Tags = append(query.Tags, tag)
			}
		}
	}

	if raw := c.Query("has_tee"); raw != "" {
		hasTEE, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "has_tee must be a boolean"})
			return
		}
		query.HasTEE = &hasTEE
	}

	var err error
	if query.Limit, err = parseIntParam(c, "limit"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	if query.Offset, err = parseIntParam(c, "offset"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be an integer"})
		return
	}

	list, err := h.store.List(c.Request.Context(), query)
	if err != nil {
		h.logger.Error("catalog list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "catalog query failed"})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) handleGetByHRI(c *gin.Context) {
	hri := strings.TrimPrefix(c.Param("hri"), "/")

	// HRI slashes may arrive URL-encoded; decode tolerantly and fall back
	// to the raw value when the escape sequence is broken.
	if decoded, err := url.PathUnescape(hri); err == nil {
		hri = decoded
	}

	card, err := h.store.GetByHRI(c.Request.Context(), hri)
	if err != nil {
		h.respondGetError(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (h *Handler) handleGetByUUID(c *gin.Context) {
	card, err := h.store.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		h.respondGetError(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (h *Handler) respondGetError(c *gin.Context, err error) {
	var notFound *CardNotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
		return
	}
	h.logger.Error("catalog lookup failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "catalog query failed"})
}

func parseIntParam(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
