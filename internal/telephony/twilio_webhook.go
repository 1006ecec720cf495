package telephony

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// TwilioInboundForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default; GET webhooks carry
// the same fields in the query string.
type TwilioInboundForm struct {
	CallSid     string
	AccountSid  string
	From        string
	To          string
	Direction   string
	CallStatus  string
	ApiVersion  string
	CallerName  string
	FromCountry string
	ToCountry   string
}

func ParseTwilioInboundCall(r *http.Request) (TwilioInboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundForm{}, err
	}
	f := TwilioInboundForm{
		CallSid:     r.FormValue("CallSid"),
		AccountSid:  r.FormValue("AccountSid"),
		From:        normalizePhone(r.FormValue("From")),
		To:          normalizePhone(r.FormValue("To")),
		Direction:   r.FormValue("Direction"),
		CallStatus:  r.FormValue("CallStatus"),
		ApiVersion:  r.FormValue("ApiVersion"),
		CallerName:  r.FormValue("CallerName"),
		FromCountry: r.FormValue("FromCountry"),
		ToCountry:   r.FormValue("ToCountry"),
	}
	return f, nil
}

func normalizePhone(s string) string {
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return strings.TrimSpace(s)
}

func (f TwilioInboundForm) ToInboundCallRequest(occurredAt time.Time) InboundCallRequest {
	raw, _ := json.Marshal(f)
	return InboundCallRequest{
		ProviderCallID: f.CallSid,
		From:           f.From,
		To:             f.To,
		OccurredAt:     occurredAt,
		RawPayload:     string(raw),
	}
}
