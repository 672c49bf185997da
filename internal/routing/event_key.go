package routing

import (
	"strings"

	"github.com/soyeahso/chatbridge/internal/inbound"
)

// EventKey builds the idempotency key for a parsed webhook.
//
// Keys have the form platform:kind:externalId. Status keys append the status
// so that delivered and read for the same message are distinct events.
func EventKey(res inbound.Result) string {
	var b strings.Builder
	b.WriteString(string(res.Platform))
	b.WriteByte(':')
	b.WriteString(string(res.Kind))
	b.WriteByte(':')

	switch res.Kind {
	case inbound.KindMessage:
		if res.Message != nil {
			b.WriteString(res.Message.ExternalID)
		}
	case inbound.KindStatus:
		if res.Status != nil {
			b.WriteString(res.Status.ExternalID)
			b.WriteByte(':')
			b.WriteString(string(res.Status.Status))
		}
	}
	return b.String()
}
