package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/session"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func (a *API) registerHTTP(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": a.reg.Len()})
	})

	g := r.Group("/api")
	g.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	g.GET("/sessions", a.handleListSessions)
	g.GET("/sessions/:id", a.handleGetSession)
	g.GET("/sessions/:id/leaderboard", a.handleGetLeaderboard)
	g.GET("/sessions/:id/results", a.handleListResults)

	r.POST("/mcp", a.handleMCP)
}

func (a *API) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": a.listSessions()})
}

func (a *API) handleGetSession(c *gin.Context) {
	s, err := a.getSession(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, s)
}

func (a *API) handleGetLeaderboard(c *gin.Context) {
	if a.ls == nil {
		writeError(c, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("leaderboard projection is disabled")))
		return
	}

	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		SessionID: session.NormalizeCode(c.Param("id")),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toLeaderboard(*l))
}

func (a *API) handleListResults(c *gin.Context) {
	rs, err := a.ss.ListResults(c.Request.Context(), score.ListResultsRequest{
		SessionID: session.NormalizeCode(c.Param("id")),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": toResults(rs)})
}

func (a *API) handleMCP(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request"})
		return
	}

	c.JSON(http.StatusOK, a.mcp.HandleMessage(c.Request.Context(), body))
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		c.Error(err) //nolint:errcheck
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	c.JSON(e.HTTPStatusCode(), ErrorResponse{Error: e.Message})
}
