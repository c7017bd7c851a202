package telephony

import (
	"net/http"
	"strings"

	"voice-agent-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	twclient "github.com/twilio/twilio-go/client"
)

// RequireTwilioSignature rejects webhooks whose X-Twilio-Signature does not
// match the auth token. The signed URL is rebuilt from baseURL because the
// API usually sits behind a proxy that rewrites scheme and host.
func RequireTwilioSignature(authToken, baseURL string) gin.HandlerFunc {
	validator := twclient.NewRequestValidator(authToken)
	base := strings.TrimRight(baseURL, "/")

	return func(c *gin.Context) {
		sig := c.GetHeader("X-Twilio-Signature")
		if sig == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing signature"})
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}

		url := base + c.Request.URL.RequestURI()
		if !validator.Validate(url, FormParams(c.Request), sig) {
			logger.FromGin(c).Warn("twilio signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}

// FormParams flattens the POST form to the single-valued map the validator signs.
func FormParams(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
