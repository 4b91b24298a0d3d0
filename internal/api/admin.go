package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veilgate/veilgate/internal/credential"
)

// registerAdminRoutes wires the actor CRUD surface and the storage bridge
// named in spec.md §6's admin rows, plus the websocket status push
// described in spec.md §6.9.
func registerAdminRoutes(engine *gin.Engine, deps *Dependencies, hub *statusHub) {
	admin := requireAdminToken(deps.AdminToken)

	group := engine.Group("/api")
	group.Use(admin)

	group.POST("/cookie", submitCookieHandler(deps))
	group.GET("/cookie", listHandler(func(c *gin.Context) (any, error) { return deps.Manager.Cookies.GetStatus(c.Request.Context()) }))
	group.DELETE("/cookie/:key", deleteHandler(func(c *gin.Context, key string) error { return deps.Manager.Cookies.Delete(c.Request.Context(), key) }))

	group.POST("/key", submitKeyHandler(deps))
	group.GET("/key", listHandler(func(c *gin.Context) (any, error) { return deps.Manager.Keys.GetStatus(c.Request.Context()) }))
	group.DELETE("/key/:key", deleteHandler(func(c *gin.Context, key string) error { return deps.Manager.Keys.Delete(c.Request.Context(), key) }))

	group.POST("/token", submitCliTokenHandler(deps))
	group.GET("/token", listHandler(func(c *gin.Context) (any, error) { return deps.Manager.CliTokens.GetStatus(c.Request.Context()) }))
	group.DELETE("/token/:key", deleteHandler(func(c *gin.Context, key string) error { return deps.Manager.CliTokens.Delete(c.Request.Context(), key) }))

	group.POST("/account", submitServiceAccountHandler(deps))
	group.GET("/account", listHandler(func(c *gin.Context) (any, error) { return deps.Manager.ServiceAccounts.GetStatus(c.Request.Context()) }))
	group.DELETE("/account/:key", deleteHandler(func(c *gin.Context, key string) error { return deps.Manager.ServiceAccounts.Delete(c.Request.Context(), key) }))

	group.POST("/storage/import", func(c *gin.Context) {
		if err := deps.Storage.ImportFromFile(c.Request.Context(), deps.ConfigPath); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
	group.POST("/storage/export", func(c *gin.Context) {
		if err := deps.Storage.ExportToFile(c.Request.Context(), deps.ConfigPath); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	// Health endpoints never fail loudly (spec.md §6): the JSON body
	// itself carries success/failure, the HTTP status is always 200.
	engine.GET("/api/storage/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Storage.Status(c.Request.Context()))
	})

	engine.GET("/api/status/ws", admin, hub.serveWS)
}

func listHandler(get func(c *gin.Context) (any, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := get(c)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func deleteHandler(del func(c *gin.Context, key string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := del(c, c.Param("key")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type submitCookieRequest struct {
	Cookie         string `json:"cookie" binding:"required"`
	AccessToken    string `json:"access_token"`
	RefreshToken   string `json:"refresh_token"`
	ExpiresInSecs  int64  `json:"expires_in"`
	OrganizationID string `json:"organization_id"`
}

func submitCookieHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitCookieRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, &credential.Error{Kind: credential.BadRequest, Cause: err})
			return
		}
		cookie := &credential.WebCookie{Cookie: req.Cookie}
		if req.AccessToken != "" {
			cookie.Token = &credential.OAuthToken{
				AccessToken:    req.AccessToken,
				RefreshToken:   req.RefreshToken,
				OrganizationID: req.OrganizationID,
				ExpiresAt:      time.Now().Add(time.Duration(req.ExpiresInSecs) * time.Second),
			}
		}
		deps.Manager.Cookies.Submit(c.Request.Context(), cookie)
		c.JSON(http.StatusCreated, cookie)
	}
}

type submitKeyRequest struct {
	Key string `json:"key" binding:"required"`
}

func submitKeyHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, &credential.Error{Kind: credential.BadRequest, Cause: err})
			return
		}
		key := &credential.ApiKey{Key: req.Key}
		deps.Manager.Keys.Submit(c.Request.Context(), key)
		c.JSON(http.StatusCreated, key)
	}
}

type submitCliTokenRequest struct {
	AccessToken   string `json:"access_token" binding:"required"`
	ExpiresInSecs int64  `json:"expires_in"`
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret"`
	RefreshToken  string `json:"refresh_token"`
	TokenEndpoint string `json:"token_endpoint"`
	ProjectID     string `json:"project_id"`
}

func submitCliTokenHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitCliTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, &credential.Error{Kind: credential.BadRequest, Cause: err})
			return
		}
		tok := &credential.CliToken{AccessToken: req.AccessToken}
		if req.ExpiresInSecs > 0 {
			expires := time.Now().Add(time.Duration(req.ExpiresInSecs) * time.Second)
			tok.ExpiresAt = &expires
		}
		if req.RefreshToken != "" {
			tok.Refresh = &credential.CliRefreshMeta{
				ClientID:      req.ClientID,
				ClientSecret:  req.ClientSecret,
				RefreshToken:  req.RefreshToken,
				TokenEndpoint: req.TokenEndpoint,
				ProjectID:     req.ProjectID,
			}
		}
		deps.Manager.CliTokens.Submit(c.Request.Context(), tok)
		c.JSON(http.StatusCreated, tok)
	}
}

type submitServiceAccountRequest struct {
	ClientEmail string `json:"client_email" binding:"required"`
	ProjectID   string `json:"project_id" binding:"required"`
	PrivateKey  string `json:"private_key" binding:"required"`
}

// submitServiceAccountHandler assigns a fresh stable id to a newly
// imported service-account key document, matching spec.md §4.8's "full
// upsert by stable id" — a reconciled or re-imported row keeps reusing
// its id, but a brand-new submission has none yet to reuse.
func submitServiceAccountHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitServiceAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, &credential.Error{Kind: credential.BadRequest, Cause: err})
			return
		}
		sa := &credential.ServiceAccount{
			ID: uuid.NewString(),
			Credential: credential.ServiceAccountKey{
				ClientEmail: req.ClientEmail,
				ProjectID:   req.ProjectID,
				PrivateKey:  req.PrivateKey,
			},
		}
		deps.Manager.ServiceAccounts.Submit(c.Request.Context(), sa)
		c.JSON(http.StatusCreated, sa)
	}
}
