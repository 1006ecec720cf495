package telephony

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go/client"
)

const twilioSignatureHeader = "X-Twilio-Signature"

// SignatureValidator checks X-Twilio-Signature on webhook requests.
type SignatureValidator struct {
	v client.RequestValidator

	// PublicURL is the base URL Twilio was configured with. Behind a proxy the
	// request host differs from what Twilio signed.
	PublicURL string
}

func NewSignatureValidator(authToken, publicURL string) *SignatureValidator {
	return &SignatureValidator{v: client.NewRequestValidator(authToken), PublicURL: publicURL}
}

// Valid reports whether r carries a signature matching its URL and form body.
// Media stream handshakes are signed over their ws/wss URL with no parameters.
// r.ParseForm must be safe to call (the body has not been consumed elsewhere).
func (s *SignatureValidator) Valid(r *http.Request) bool {
	sig := r.Header.Get(twilioSignatureHeader)
	if sig == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, vs := range r.PostForm {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	return s.v.Validate(s.signedURL(r), params, sig)
}

func (s *SignatureValidator) signedURL(r *http.Request) string {
	base := strings.TrimRight(s.PublicURL, "/")
	if base == "" {
		scheme := "https"
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else if r.TLS == nil && strings.HasPrefix(r.Host, "localhost") {
			scheme = "http"
		}
		base = scheme + "://" + r.Host
	}
	if websocket.IsWebSocketUpgrade(r) {
		base = websocketScheme(base)
	}
	return base + r.URL.RequestURI()
}

func websocketScheme(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
