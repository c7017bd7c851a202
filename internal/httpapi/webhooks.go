package httpapi

import (
	"errors"
	"net/http"

	"voice-agent-platform/internal/conversation"
	"voice-agent-platform/internal/telephony"
	"voice-agent-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	contentTypeXML = "application/xml"
	msgWebhookErr  = "I'm sorry, there was an error. Goodbye."
	msgSMSErr      = "Sorry, we couldn't process your message. Please try again later."
)

// fallbackTwiML is served when rendering itself fails.
const fallbackTwiML = `<?xml version="1.0" encoding="UTF-8"?>
<Response><Say>` + msgWebhookErr + `</Say><Hangup/></Response>`

// Provider webhooks always answer 200 with TwiML; a non-2xx response makes
// Twilio play its own error message to the caller.

func (h Handlers) InboundCall(c *gin.Context) {
	in, err := telephony.ParseInboundCall(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("inbound call webhook rejected", "err", err)
		h.twiml(c, telephony.Goodbye(msgWebhookErr))
		return
	}
	h.twiml(c, h.Engine.HandleInbound(c.Request.Context(), in))
}

func (h Handlers) OutboundAnswer(c *gin.Context) {
	in, err := telephony.ParseInboundCall(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("outbound answer webhook rejected", "err", err)
		h.twiml(c, telephony.Goodbye(msgWebhookErr))
		return
	}
	h.twiml(c, h.Engine.HandleOutboundAnswer(c.Request.Context(), conversation.OutboundAnswer{
		CallSID: in.CallSID,
		From:    in.From,
		To:      in.To,
		AgentID: c.Query("agent_id"),
	}))
}

func (h Handlers) Transcribe(c *gin.Context) {
	u, err := telephony.ParseUtterance(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("transcribe webhook rejected", "err", err)
		h.twiml(c, telephony.Goodbye(msgWebhookErr))
		return
	}
	h.twiml(c, h.Engine.HandleUtterance(c.Request.Context(), u.CallSID, u.SpeechResult))
}

// CallStatus acknowledges every notification, including malformed ones.
func (h Handlers) CallStatus(c *gin.Context) {
	st, err := telephony.ParseStatus(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("status callback ignored", "err", err)
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	outcome := h.Reconciler.HandleStatus(c.Request.Context(), conversation.StatusUpdate{
		CallSID:         st.CallSID,
		Status:          st.Status,
		DurationSeconds: st.DurationSeconds,
		From:            st.From,
		To:              st.To,
		Direction:       st.Direction,
	})
	logger.FromGin(c).Debug("status callback", "call_sid", st.CallSID, "status", st.Status, "outcome", outcome)
	c.JSON(http.StatusOK, gin.H{})
}

func (h Handlers) InboundSMS(c *gin.Context) {
	m, err := telephony.ParseInboundSMS(c.Request)
	if err != nil && !errors.Is(err, telephony.ErrMissingField) {
		logger.FromGin(c).Warn("sms webhook rejected", "err", err)
		h.message(c, msgSMSErr)
		return
	}
	// Missing fields are answered by the service with its own apology.
	h.message(c, h.SMS.HandleInbound(c.Request.Context(), m))
}

func (h Handlers) twiml(c *gin.Context, in telephony.Instruction) {
	body, err := h.Emitter.Render(in)
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "intent", in.Intent.String(), "err", err)
		body = fallbackTwiML
	}
	c.Data(http.StatusOK, contentTypeXML, []byte(body))
}

func (h Handlers) message(c *gin.Context, text string) {
	body, err := telephony.RenderMessage(text)
	if err != nil {
		logger.FromGin(c).Error("sms twiml render failed", "err", err)
		body, _ = telephony.RenderMessage(msgSMSErr)
	}
	c.Data(http.StatusOK, contentTypeXML, []byte(body))
}
