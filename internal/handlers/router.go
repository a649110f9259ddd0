package handlers

import (
	"supportdesk/internal/config"
	"supportdesk/internal/middleware"
	"supportdesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"
)

// Services 路由依赖的全部服务
type Services struct {
	DB         *gorm.DB
	Tenant     *services.TenantService
	Tickets    *services.TicketService
	SLA        *services.SLAService
	Forms      *services.FormService
	Submission *services.SubmissionService
	Portal     *services.PortalService
	Knowledge  *services.KnowledgeService
	Gmail      *services.GmailSyncService
	Hub        *services.EventHub
	Version    string
}

// SetupRouter 组装中间件与全部路由
func SetupRouter(cfg *config.Config, svc Services, logger *logrus.Logger) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))
	router.Use(middleware.RateLimitMiddlewareFromConfig(cfg))
	if cfg.Monitoring.Tracing.Enabled {
		router.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	health := NewHealthHandler(cfg, svc.DB, svc.Hub, svc.Version, logger)
	router.GET("/health", health.Health)
	if cfg.Monitoring.Enabled {
		path := cfg.Monitoring.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, health.Metrics)
	}

	// 公开表单
	public := NewPublicFormHandler(svc.Forms, svc.Submission)
	pub := router.Group("/public/:company/:client")
	pub.Use(middleware.OptionalSession(cfg, svc.Portal))
	{
		pub.GET("/forms/:form", public.GetForm)
		pub.POST("/forms/:form/submit", public.Submit)
	}

	// 客户门户
	portal := NewPortalHandler(svc.Portal, svc.Tickets, svc.Knowledge)
	router.POST("/portal/token", portal.ExchangeToken)
	router.POST("/portal/:company/:client/otp/request", portal.RequestOTP)
	router.POST("/portal/:company/:client/otp/verify", portal.VerifyOTP)
	portalAPI := router.Group("/portal")
	portalAPI.Use(middleware.PortalAuth(svc.Portal))
	{
		portalAPI.GET("/tickets", portal.ListTickets)
		portalAPI.POST("/tickets", portal.CreateTicket)
		portalAPI.GET("/tickets/:id", portal.GetTicket)
		portalAPI.POST("/tickets/:id/comments", portal.AddComment)
		portalAPI.GET("/articles", portal.ListArticles)
		portalAPI.GET("/articles/:slug", portal.GetArticle)
	}

	var gmailHandler *GmailHandler
	if svc.Gmail != nil {
		gmailHandler = NewGmailHandler(svc.Gmail, logger)
		router.POST("/webhooks/gmail", gmailHandler.Push)
	}

	// 员工端 API
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg))
	{
		clients := NewClientHandler(svc.Tenant)
		g := api.Group("/clients", middleware.RequireResourcePermission("clients"))
		g.GET("", clients.ListClients)
		g.POST("", clients.CreateClient)
		g.GET("/:id", clients.GetClient)
		g.PUT("/:id", clients.UpdateClient)

		tickets := NewTicketHandler(svc.Tickets, svc.SLA, svc.Submission)
		g = api.Group("/tickets", middleware.RequireResourcePermission("tickets"))
		g.GET("", tickets.ListTickets)
		g.POST("", tickets.CreateTicket)
		g.GET("/:id", tickets.GetTicket)
		g.PUT("/:id", tickets.UpdateTicket)
		g.POST("/:id/assign", tickets.AssignTicket)
		g.POST("/:id/close", tickets.CloseTicket)
		g.POST("/:id/comments", tickets.AddComment)
		g.GET("/:id/submission", tickets.GetTicketSubmission)

		sla := NewSLAHandler(svc.SLA)
		g = api.Group("/sla", middleware.RequireResourcePermission("sla"))
		g.GET("/policies", sla.ListPolicies)
		g.POST("/policies", sla.CreatePolicy)
		g.GET("/policies/:id", sla.GetPolicy)
		g.PUT("/policies/:id", sla.UpdatePolicy)
		g.DELETE("/policies/:id", sla.DeletePolicy)
		g.GET("/breaches", tickets.ListBreaches)

		forms := NewFormHandler(svc.Forms, svc.Submission)
		g = api.Group("/forms", middleware.RequireResourcePermission("forms"))
		g.GET("", forms.ListForms)
		g.POST("", forms.CreateForm)
		g.GET("/:id", forms.GetForm)
		g.PUT("/:id", forms.UpdateForm)
		g.DELETE("/:id", forms.DeleteForm)

		g = api.Group("/submissions", middleware.RequireResourcePermission("submissions"))
		g.GET("", forms.ListSubmissions)
		g.GET("/:id", forms.GetSubmission)
		g.POST("/:id/ticket", forms.CreateTicketFromSubmission)

		g = api.Group("/portal-accesses", middleware.RequireResourcePermission("portal_accesses"))
		g.GET("", portal.ListAccesses)
		g.POST("", portal.CreateAccess)
		g.POST("/:id/activate", portal.SetActive(true))
		g.POST("/:id/deactivate", portal.SetActive(false))
		g.POST("/:id/rotate-token", portal.RotateToken)

		articles := NewKnowledgeHandler(svc.Knowledge)
		g = api.Group("/articles", middleware.RequireResourcePermission("articles"))
		g.GET("", articles.ListArticles)
		g.POST("", articles.CreateArticle)
		g.GET("/:id", articles.GetArticle)
		g.PUT("/:id", articles.UpdateArticle)
		g.DELETE("/:id", articles.DeleteArticle)
		g.POST("/:id/publish", articles.SetPublished(true))
		g.POST("/:id/unpublish", articles.SetPublished(false))

		if gmailHandler != nil {
			g = api.Group("/integrations/gmail", middleware.RequireResourcePermission("integrations"))
			g.GET("", gmailHandler.ListIntegrations)
			g.POST("", gmailHandler.CreateIntegration)
			g.DELETE("/:id", gmailHandler.DeleteIntegration)
			g.POST("/:id/sync", gmailHandler.SyncIntegration)
		}

		stream := NewEventStreamHandler(svc.Hub, logger)
		api.GET("/ws", middleware.RequirePermissionsAny("tickets.read"), stream.Connect)
		api.GET("/ws/stats", stream.Stats)
	}

	return router
}
