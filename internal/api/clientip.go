// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package api

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the originating client address through the proxy header
// chain: X-Forwarded-For, then Proxy-Client-IP, then WL-Proxy-Client-IP,
// then the socket address. A header carrying a comma-separated chain yields
// its first token; the literal value "unknown" counts as absent.
func ClientIP(r *http.Request) string {
	ip := headerValue(r, "X-Forwarded-For")
	if ip == "" {
		ip = headerValue(r, "Proxy-Client-IP")
	}
	if ip == "" {
		ip = headerValue(r, "WL-Proxy-Client-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	}
	if idx := strings.Index(ip, ","); idx >= 0 {
		ip = ip[:idx]
	}
	return strings.TrimSpace(ip)
}

func headerValue(r *http.Request, name string) string {
	v := r.Header.Get(name)
	if v == "" || strings.EqualFold(v, "unknown") {
		return ""
	}
	return v
}
