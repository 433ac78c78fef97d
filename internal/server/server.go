package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/orgkit/internal/config"
	identitydomain "github.com/smallbiznis/orgkit/internal/identity/domain"
	invitationdomain "github.com/smallbiznis/orgkit/internal/invitation/domain"
	"github.com/smallbiznis/orgkit/internal/membership"
	"github.com/smallbiznis/orgkit/internal/observability"
	obsmiddleware "github.com/smallbiznis/orgkit/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/orgkit/internal/observability/metrics"
	obstracing "github.com/smallbiznis/orgkit/internal/observability/tracing"
	orgdomain "github.com/smallbiznis/orgkit/internal/organization/domain"
	"github.com/smallbiznis/orgkit/internal/orgkind"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	identitySvc     identitydomain.Service
	organizationSvc orgdomain.Service
	registration    invitationdomain.RegistrationBackend
	invitations     invitationdomain.ModelBackend
	registry        *orgkind.Registry
	defaultKind     *orgkind.Kind
	members         *membership.Engine
	sessions        sessionWriter
	log             *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	IdentitySvc     identitydomain.Service
	OrganizationSvc orgdomain.Service
	Registration    invitationdomain.RegistrationBackend
	Invitations     invitationdomain.ModelBackend
	Registry        *orgkind.Registry
	DefaultKind     *orgkind.Kind
	Engine          *membership.Engine
	Log             *zap.Logger
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		identitySvc:     p.IdentitySvc,
		organizationSvc: p.OrganizationSvc,
		registration:    p.Registration,
		invitations:     p.Invitations,
		registry:        p.Registry,
		defaultKind:     p.DefaultKind,
		members:         p.Engine,
		sessions:        sessionWriter{secure: p.Cfg.AuthCookieSecure},
		log:             p.Log,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerInvitationRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/signup", s.Signup)
	auth.POST("/login", s.Login)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.AuthRequired(), s.Me)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.AuthRequired())

	api.POST("/organizations", s.CreateOrganization)
	api.GET("/organizations", s.ListOrganizations)
	api.GET("/organizations/:orgID", s.GetOrganization)
	api.PATCH("/organizations/:orgID", s.UpdateOrganization)
	api.DELETE("/organizations/:orgID", s.DeleteOrganization)

	api.GET("/organizations/:orgID/members", s.ListMembers)
	api.POST("/organizations/:orgID/members", s.AddMember)
	api.DELETE("/organizations/:orgID/members/:userID", s.RemoveMember)
	api.POST("/organizations/:orgID/transfer-ownership", s.TransferOwnership)

	api.POST("/organizations/:orgID/invite", s.InviteByEmail)
	api.POST("/organizations/:orgID/remind", s.SendReminder)

	api.POST("/organizations/:orgID/invitations", s.CreateInvitation)
	api.GET("/organizations/:orgID/invitations", s.ListInvitations)
}

// registerInvitationRoutes mounts the public link targets embedded in
// invitation and activation emails. The :kind segment selects the
// organization kind by route name.
func (s *Server) registerInvitationRoutes() {
	s.engine.GET("/:kind/invitations/:guid", s.ResolveInvitation)
	s.engine.POST("/:kind/invitations/:guid", s.ClaimInvitation)

	s.engine.GET("/:kind/register/:userID/:token", s.CheckActivation)
	s.engine.POST("/:kind/register/:userID/:token", s.Activate)
}

func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, payload := mapError(err)
	switch {
	case status == http.StatusInternalServerError:
		return "internal_error", payload.Type
	case status >= http.StatusBadRequest:
		return "client_error", payload.Type
	default:
		return "", ""
	}
}
