// Package tracectx implements W3C Trace Context propagation: parsing and
// validation of traceparent strings, plus the Lamport clock that orders
// cross-environment events when wall clocks cannot be trusted.
package tracectx

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Context is a parsed traceparent: version-trace_id-parent_id-flags.
type Context struct {
	Version  byte
	TraceID  [16]byte
	ParentID [8]byte
	Flags    byte
}

// Parse validates a traceparent of the exact form
// `vv-<32 hex>-<16 hex>-ff`. Version must be 0x00 and neither id may be
// all zero.
func Parse(s string) (Context, error) {
	var ctx Context

	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return ctx, fmt.Errorf("traceparent %q: want 4 fields, got %d", s, len(parts))
	}
	if len(parts[0]) != 2 || len(parts[1]) != 32 || len(parts[2]) != 16 || len(parts[3]) != 2 {
		return ctx, fmt.Errorf("traceparent %q: field lengths must be 2-32-16-2", s)
	}

	version, err := hex.DecodeString(parts[0])
	if err != nil {
		return ctx, fmt.Errorf("traceparent %q: bad version field: %w", s, err)
	}
	if version[0] != 0x00 {
		return ctx, fmt.Errorf("traceparent %q: unsupported version %#02x", s, version[0])
	}
	ctx.Version = version[0]

	traceID, err := hex.DecodeString(parts[1])
	if err != nil {
		return ctx, fmt.Errorf("traceparent %q: bad trace id: %w", s, err)
	}
	copy(ctx.TraceID[:], traceID)
	if allZero(ctx.TraceID[:]) {
		return ctx, fmt.Errorf("traceparent %q: all-zero trace id", s)
	}

	parentID, err := hex.DecodeString(parts[2])
	if err != nil {
		return ctx, fmt.Errorf("traceparent %q: bad parent span id: %w", s, err)
	}
	copy(ctx.ParentID[:], parentID)
	if allZero(ctx.ParentID[:]) {
		return ctx, fmt.Errorf("traceparent %q: all-zero parent span id", s)
	}

	flags, err := hex.DecodeString(parts[3])
	if err != nil {
		return ctx, fmt.Errorf("traceparent %q: bad flags field: %w", s, err)
	}
	ctx.Flags = flags[0]

	return ctx, nil
}

// String renders the context back into traceparent form; Parse(String())
// yields an equal value.
func (c Context) String() string {
	return fmt.Sprintf("%02x-%s-%s-%02x",
		c.Version, hex.EncodeToString(c.TraceID[:]), hex.EncodeToString(c.ParentID[:]), c.Flags)
}

// Sampled reports the sampled flag bit.
func (c Context) Sampled() bool {
	return c.Flags&0x01 != 0
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

// FromEnvironment resolves the active traceparent: the explicit value
// wins, then TRACEPARENT, then OTEL_TRACEPARENT. Returns ok=false when
// none is set; an invalid explicit value is the caller's error to handle.
func FromEnvironment(explicit string, getenv func(string) string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	for _, key := range []string{"TRACEPARENT", "OTEL_TRACEPARENT"} {
		if v := getenv(key); v != "" {
			return v, true
		}
	}
	return "", false
}
