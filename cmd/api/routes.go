package main

import (
	"context"
	"net/http"

	"voice-agent-platform/internal/httpapi"
	"voice-agent-platform/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeOptions struct {
	authMW gin.HandlerFunc
	// twilioMW validates webhook signatures; nil disables the check.
	twilioMW gin.HandlerFunc
	metrics  prometheus.Gatherer
	ready    func(ctx context.Context) error
	devLogin bool
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, o routeOptions) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if o.ready != nil {
		r.GET("/readyz", func(c *gin.Context) {
			if err := o.ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}
	if o.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(o.metrics, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")

	// Provider webhooks.
	hooks := v1.Group("")
	if o.twilioMW != nil {
		hooks.Use(o.twilioMW)
	}
	{
		hooks.POST("/calls/webhook", h.InboundCall)
		hooks.POST("/calls/outbound", h.OutboundAnswer)
		hooks.POST("/calls/transcribe", h.Transcribe)
		hooks.POST("/calls/status", h.CallStatus)
		hooks.POST("/sms/webhook", h.InboundSMS)
	}

	if o.devLogin {
		v1.POST("/auth/login", h.Login)
	}

	// Operator API.
	api := v1.Group("")
	api.Use(o.authMW)
	{
		api.POST("/calls/make", append(httpapi.RequireOrganizationAndAnyRole(rbac.RoleOwner, rbac.RoleAgent), h.MakeCall)...)
		api.GET("/calls/logs", append(httpapi.RequireOrganizationAndAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleAnalyst), h.CallLogs)...)
		api.GET("/calls/summary", append(httpapi.RequireOrganizationAndAnyRole(rbac.RoleOwner, rbac.RoleAnalyst), h.CallsSummary)...)
		api.POST("/sms/send", append(httpapi.RequireOrganizationAndAnyRole(rbac.RoleOwner, rbac.RoleAgent), h.SendSMS)...)
		api.POST("/sms/ai-response", append(httpapi.RequireOrganizationAndAnyRole(rbac.RoleOwner, rbac.RoleAgent), h.SendAIResponse)...)
	}
}
