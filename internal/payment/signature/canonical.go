package signature

import (
	"fmt"
	"strings"
)

// Format selects how the signed message is assembled. Gateways differ and the
// choice is configuration, never guessed from the request.
type Format string

const (
	// FormatManifest is Mercado Pago's manifest: id:<data.id>;request-id:<x-request-id>;ts:<ts>;
	FormatManifest                Format = "manifest"
	FormatTimestampMethodPathBody Format = "ts-method-path-body"
	FormatTimestampBody           Format = "ts-body"
	// FormatTimestampDotBody is <ts>.<body>, as used by Stripe.
	FormatTimestampDotBody Format = "ts-dot-body"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.TrimSpace(strings.ToLower(s))); f {
	case FormatManifest, FormatTimestampMethodPathBody, FormatTimestampBody, FormatTimestampDotBody:
		return f, nil
	}
	return "", fmt.Errorf("unknown signature format %q", s)
}

func (f Format) CoversBody() bool {
	switch f {
	case FormatTimestampMethodPathBody, FormatTimestampBody, FormatTimestampDotBody:
		return true
	}
	return false
}

// Message carries every input any Format may need. Body must be the exact
// bytes received on the wire.
type Message struct {
	Timestamp string
	Method    string
	Path      string
	RequestID string
	DataID    string
	Body      []byte
}

func Canonical(f Format, m Message) ([]byte, error) {
	switch f {
	case FormatManifest:
		var b strings.Builder
		// parts that were not sent are left out of the manifest entirely
		if m.DataID != "" {
			b.WriteString("id:")
			b.WriteString(strings.ToLower(m.DataID))
			b.WriteString(";")
		}
		if m.RequestID != "" {
			b.WriteString("request-id:")
			b.WriteString(m.RequestID)
			b.WriteString(";")
		}
		if m.Timestamp != "" {
			b.WriteString("ts:")
			b.WriteString(m.Timestamp)
			b.WriteString(";")
		}
		return []byte(b.String()), nil
	case FormatTimestampMethodPathBody:
		out := make([]byte, 0, len(m.Timestamp)+len(m.Method)+len(m.Path)+len(m.Body))
		out = append(out, m.Timestamp...)
		out = append(out, m.Method...)
		out = append(out, m.Path...)
		return append(out, m.Body...), nil
	case FormatTimestampBody:
		out := make([]byte, 0, len(m.Timestamp)+len(m.Body))
		out = append(out, m.Timestamp...)
		return append(out, m.Body...), nil
	case FormatTimestampDotBody:
		out := make([]byte, 0, len(m.Timestamp)+1+len(m.Body))
		out = append(out, m.Timestamp...)
		out = append(out, '.')
		return append(out, m.Body...), nil
	}
	return nil, fmt.Errorf("unknown signature format %q", f)
}

// ParseHeader splits a "ts=...,v1=..." style header. Both "ts" and "t" name the
// timestamp and every v1 entry is returned.
func ParseHeader(h string) (ts string, signatures []string) {
	for _, part := range strings.Split(h, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "ts", "t":
			ts = strings.TrimSpace(v)
		case "v1":
			if v = strings.TrimSpace(v); v != "" {
				signatures = append(signatures, v)
			}
		}
	}
	return ts, signatures
}
