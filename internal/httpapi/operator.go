package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"voice-agent-platform/internal/agents"
	"voice-agent-platform/internal/auth"
	"voice-agent-platform/internal/conversation"
	"voice-agent-platform/internal/rbac"
	"voice-agent-platform/internal/reporting"
	"voice-agent-platform/internal/sms"
	"voice-agent-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

type makeCallRequest struct {
	PhoneNumber string `json:"phone_number"`
	AgentID     string `json:"agent_id"`
}

// MakeCall places an outbound call for one of the caller's agents.
// RBAC: owner, agent.
func (h Handlers) MakeCall(c *gin.Context) {
	var req makeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.PhoneNumber == "" || req.AgentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number and agent_id required"})
		return
	}
	if !h.ownsAgent(c, req.AgentID) {
		return
	}

	res, err := h.Outbound.StartCall(c.Request.Context(), req.PhoneNumber, req.AgentID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "call_sid": res.CallSID, "status": res.Status})
	case errors.Is(err, conversation.ErrInvalidPhone):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid phone_number"})
	case errors.Is(err, conversation.ErrUnknownAgent):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "agent not found"})
	case errors.Is(err, conversation.ErrAtCapacity):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "agent at capacity"})
	default:
		logger.FromGin(c).Error("outbound call failed", "agent_id", req.AgentID, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "call could not be placed"})
	}
}

// CallLogs lists sessions with transcripts, newest first.
// RBAC: owner, agent, analyst.
func (h Handlers) CallLogs(c *gin.Context) {
	org, ok := h.organization(c)
	if !ok {
		return
	}
	r, ok := parseRange(c, time.Time{})
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 20)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}

	logs, err := h.Reporting.CallLogs(c.Request.Context(), reporting.CallLogsRequest{
		OrganizationID: org,
		AgentID:        c.Query("agent_id"),
		Range:          r,
		Limit:          limit,
		Offset:         offset,
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("call logs failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call logs unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": logs, "limit": limit, "offset": offset})
}

// CallsSummary aggregates the caller's calls over a range (default last 30 days).
// RBAC: owner, analyst.
func (h Handlers) CallsSummary(c *gin.Context) {
	org, ok := h.organization(c)
	if !ok {
		return
	}
	r, ok := parseRange(c, h.now())
	if !ok {
		return
	}
	out, err := h.Reporting.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		OrganizationID: org,
		AgentID:        c.Query("agent_id"),
		Range:          r,
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("calls summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary unavailable"})
		return
	}
	c.JSON(http.StatusOK, out)
}

type sendSMSRequest struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
	AgentID     string `json:"agent_id,omitempty"`
}

// SendSMS texts a message. RBAC: owner, agent.
func (h Handlers) SendSMS(c *gin.Context) {
	var req sendSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.PhoneNumber == "" || req.Message == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing phone_number or message"})
		return
	}
	if req.AgentID != "" && !h.ownsAgent(c, req.AgentID) {
		return
	}
	out, err := h.SMS.Send(c.Request.Context(), req.PhoneNumber, req.Message)
	h.smsResult(c, out, err)
}

// SendAIResponse generates an agent's reply to message and texts it.
// RBAC: owner, agent.
func (h Handlers) SendAIResponse(c *gin.Context) {
	var req sendSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.PhoneNumber == "" || req.Message == "" || req.AgentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing required parameters"})
		return
	}
	if !h.ownsAgent(c, req.AgentID) {
		return
	}
	out, err := h.SMS.SendAIResponse(c.Request.Context(), req.PhoneNumber, req.Message, req.AgentID)
	h.smsResult(c, out, err)
}

func (h Handlers) smsResult(c *gin.Context, out sms.SentMessage, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "sms": out})
	case errors.Is(err, sms.ErrInvalidMessage):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid phone_number or message"})
	case errors.Is(err, sms.ErrUnknownAgent):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
	default:
		logger.FromGin(c).Error("sms send failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "sms could not be sent"})
	}
}

// organization returns the organization the request is scoped to. A
// super_admin may name another one with ?organization_id=.
func (h Handlers) organization(c *gin.Context) (string, bool) {
	ctx := c.Request.Context()
	org, err := auth.OrganizationID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
		return "", false
	}
	if role, _ := auth.Role(ctx); rbac.IsSuperAdmin(role) {
		if q := c.Query("organization_id"); q != "" {
			return q, true
		}
	}
	return org, true
}

// ownsAgent aborts with 404 unless agentID exists in the caller's
// organization. Agents of other organizations are reported as missing.
func (h Handlers) ownsAgent(c *gin.Context, agentID string) bool {
	ctx := c.Request.Context()
	p, err := h.Agents.Get(ctx, agentID)
	if errors.Is(err, agents.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
		return false
	}
	if err != nil {
		logger.FromGin(c).Error("agent lookup failed", "agent_id", agentID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agent lookup failed"})
		return false
	}
	org, _ := auth.OrganizationID(ctx)
	role, _ := auth.Role(ctx)
	if p.OrganizationID != org && !rbac.IsSuperAdmin(role) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
		return false
	}
	return true
}

// parseRange reads RFC 3339 from/to query params. When now is non-zero,
// missing bounds default to the 30 days before now.
func parseRange(c *gin.Context, now time.Time) (reporting.TimeRange, bool) {
	var r reporting.TimeRange
	if !now.IsZero() {
		r = reporting.DefaultRange(now)
	}
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &r.From}, {"to", &r.To}} {
		v := c.Query(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": p.key + " must be RFC 3339"})
			return reporting.TimeRange{}, false
		}
		*p.dst = t
	}
	return r, true
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": key + " must be a non-negative integer"})
		return 0, false
	}
	return n, true
}
