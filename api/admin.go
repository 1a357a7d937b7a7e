// Package api provides the administrative HTTP surface of §2.1/§4: health
// and readiness probes, operation-tracker stats, and an optional
// JWT-guarded mutation endpoint for indexing rules. This is deliberately
// not the GraphQL management transport of §6 — it is a narrow local/admin
// surface, separate from the wire protocol external operators use.
package api

import (
	"net/http"
	"time"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lestrrat-go/jwx/v2/jwa"

	"github.com/graphprotocol/indexer-sub006/core"
	"github.com/graphprotocol/indexer-sub006/rules"
	"github.com/graphprotocol/indexer-sub006/security"
	"github.com/graphprotocol/indexer-sub006/version"
)

// StatsSource reports operation tracker state for the /stats endpoint.
// Satisfied by *statemanager.Tracker.
type StatsSource interface {
	Snapshot() map[string]interface{}
}

// Server is the admin HTTP surface. It wraps an echo.Echo configured with
// request-scope authorization (RequireScope from authorization.go) guarding
// the rule-mutation route when a JWT secret is configured.
type Server struct {
	echo   *echo.Echo
	rules  *rules.Engine
	stats  StatsSource
	jwtKey string
}

// NewServer builds the admin HTTP surface. jwtSecret may be empty, in
// which case the admin mutation route runs unauthenticated — appropriate
// only for local/loopback deployments, per SPEC_FULL.md §2.1.
func NewServer(ruleEngine *rules.Engine, stats StatsSource, jwtSecret string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, rules: ruleEngine, stats: stats, jwtKey: jwtSecret}

	e.GET("/healthz", s.handleHealth)
	e.GET("/readyz", s.handleReady)
	e.GET("/stats", s.handleStats)

	admin := e.Group("/admin")
	if jwtSecret != "" {
		admin.Use(echojwt.WithConfig(echojwt.Config{
			SigningKey:    []byte(jwtSecret),
			SigningMethod: jwa.HS256.String(),
			// Validate with the security package and expose the token's
			// claims, so RequireScope can read its "scope" claim.
			ParseTokenFunc: func(c echo.Context, auth string) (interface{}, error) {
				token, err := security.NewJWTService(jwtSecret).ValidateToken(auth)
				if err != nil {
					return nil, err
				}
				claims, err := token.AsMap(c.Request().Context())
				if err != nil {
					return nil, err
				}
				SetClaims(c, claims)
				return token, nil
			},
		}))
		admin.Use(RequireScope("rules:write"))
	}
	admin.POST("/networks/:network/rules", s.handleSetRule)
	admin.DELETE("/networks/:network/rules/:identifier", s.handleDeleteRule)

	return s
}

// IssueToken mints an admin JWT with the rules:write scope, for operators
// bootstrapping the optional JWT-guarded route.
func IssueToken(jwtSecret string, subject string, ttl time.Duration) (string, error) {
	svc := security.NewJWTService(jwtSecret)
	return svc.GenerateTokenWithClaims(subject, ttl, map[string]interface{}{
		"scope": "rules:write",
	})
}

// Start runs the admin server on addr until Shutdown is called or the
// listener fails; callers own the listener address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops the admin server, closing its listener and any open
// connections immediately rather than waiting for in-flight requests.
func (s *Server) Shutdown() error {
	return s.echo.Close()
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.GetBuildInfo().MainVersion,
	})
}

func (s *Server) handleReady(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStats(c echo.Context) error {
	if s.stats == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{})
	}
	return c.JSON(http.StatusOK, s.stats.Snapshot())
}

func (s *Server) handleSetRule(c echo.Context) error {
	network := c.Param("network")
	var rule core.IndexingRule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rule.ProtocolNetwork = network
	saved, err := s.rules.Set(rule)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, saved)
}

func (s *Server) handleDeleteRule(c echo.Context) error {
	network := c.Param("network")
	identifier := c.Param("identifier")
	if err := s.rules.Delete(network, []string{identifier}); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
