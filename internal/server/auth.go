// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package server

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/rs/zerolog"

	"github.com/documesh-dev/documesh/internal/store"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

const apiPrefix = "/api/"

type orgKey struct{}

func withOrg(ctx context.Context, org *store.Organization) context.Context {
	return context.WithValue(ctx, orgKey{}, org)
}

// OrgFromContext returns the organization authenticated for the request.
func OrgFromContext(ctx context.Context) (*store.Organization, bool) {
	org, ok := ctx.Value(orgKey{}).(*store.Organization)
	return org, ok && org != nil
}

// authMiddleware requires a valid API key and an allowlisted client IP
// on every /api/ route.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, apiPrefix) {
			next.ServeHTTP(w, r)
			return
		}

		key, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, r, dmerr.New(dmerr.CodeServerAuthUnauthorized, "missing or malformed API key"))
			return
		}

		org, err := s.deps.Orgs.GetOrganizationByAPIKey(r.Context(), key)
		switch {
		case dmerr.IsNotFound(err):
			writeError(w, r, dmerr.New(dmerr.CodeServerAuthUnauthorized, "invalid API key"))
			return
		case err != nil:
			s.log.Error().Err(err).Msg("access validation failed")
			writeError(w, r, dmerr.Wrap(err, dmerr.CodeServerInternalFailure, "access validation failed"))
			return
		}

		ip := clientIP(r, s.cfg.TrustProxy)
		if !ipAllowed(s.log, ip, org.AllowedIPs) {
			s.log.Warn().Str("org_id", org.ID).Str("ip", ip).Msg("client ip not allowed")
			writeError(w, r, dmerr.New(dmerr.CodeServerAuthForbidden, "IP address not allowed", dmerr.FieldOrgID(org.ID)))
			return
		}

		next.ServeHTTP(w, r.WithContext(withOrg(r.Context(), org)))
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// clientIP returns the first X-Forwarded-For hop when proxies are trusted,
// otherwise the host of the connecting address.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipAllowed matches ip against exact addresses and CIDR ranges. An empty
// allowlist admits nobody. Malformed entries are logged and skipped.
func ipAllowed(log zerolog.Logger, ip string, allowed []string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				log.Error().Str("allowed_ip", entry).Err(err).Msg("invalid ip format in allowlist")
				continue
			}
			if prefix.Contains(addr) {
				return true
			}
			continue
		}
		want, err := netip.ParseAddr(entry)
		if err != nil {
			log.Error().Str("allowed_ip", entry).Err(err).Msg("invalid ip format in allowlist")
			continue
		}
		if want.Unmap() == addr {
			return true
		}
	}
	return false
}
