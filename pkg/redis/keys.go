package redis

import "strings"

// Every key this service writes lives under locad:<purpose>:...
const (
	keyNamespace      = "locad"
	idempotencyPrefix = "idempotency"
	rateLimitPrefix   = "rate_limit"
)

// IdempotencyKey namespaces an idempotency record, e.g. locad:idempotency:stripe-webhook:evt_1.
func (c *Client) IdempotencyKey(scope, id string) string {
	return joinKey(idempotencyPrefix, scope, id)
}

// RateLimitKey namespaces a fixed-window counter.
func (c *Client) RateLimitKey(scope string) string {
	return joinKey(rateLimitPrefix, scope)
}

// joinKey drops blank segments so an empty scope does not produce "::".
func joinKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
