// Package entitlement resolves whether an upload request runs on the
// premium or the free tier.
package entitlement

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"
)

// Entitlement is the resolved tier for a single request. It is computed
// fresh per request and never persisted.
type Entitlement struct {
	Premium bool
	Reason  string
}

// Config carries the operator-supplied premium settings.
type Config struct {
	// Bypass grants premium to every request, for testing or fully local
	// premium deployments.
	Bypass bool
	// APIKey is the static premium token; a matching premiumToken proves
	// the premium claim.
	APIKey string
	// VerifyEndpoint optionally names an external verification service
	// consulted when the static key does not settle the claim.
	VerifyEndpoint string
}

// Verifier checks a premium claim against an external authority.
type Verifier interface {
	VerifyPremium(ctx context.Context, userID, token string) (bool, error)
}

// Resolver applies the premium precedence rules.
type Resolver struct {
	cfg      Config
	verifier Verifier
	logger   *slog.Logger
}

// NewResolver constructs a resolver. verifier may be nil when no external
// endpoint is configured.
func NewResolver(cfg Config, verifier Verifier, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, verifier: verifier, logger: logger}
}

// Resolve determines the tier for the request, in strict precedence order:
// operator bypass, then the caller's own claim, then the static key, then
// the external verifier. Every ambiguous or failing path resolves to the
// free tier, never to premium.
//
// A request that does not claim premium is taken at face value and its token
// is never inspected. The host carries no server-side entitlement record to
// check against, so the claim is the only signal for free-tier requests.
func (r *Resolver) Resolve(ctx context.Context, userID string, claimedPremium bool, premiumToken string) Entitlement {
	if r.cfg.Bypass {
		return Entitlement{Premium: true}
	}
	if !claimedPremium {
		return Entitlement{}
	}
	if key := strings.TrimSpace(r.cfg.APIKey); key != "" {
		if subtle.ConstantTimeCompare([]byte(premiumToken), []byte(key)) == 1 {
			return Entitlement{Premium: true}
		}
	}
	if strings.TrimSpace(r.cfg.VerifyEndpoint) != "" {
		if r.verifier == nil {
			r.logger.Warn("premium verification endpoint configured without a verifier")
			return Entitlement{Reason: "invalid premium token"}
		}
		premium, err := r.verifier.VerifyPremium(ctx, userID, premiumToken)
		if err != nil {
			r.logger.Warn("premium verification failed", "user_id", userID, "error", err)
			return Entitlement{Reason: "premium verification unavailable"}
		}
		if premium {
			return Entitlement{Premium: true}
		}
	}
	return Entitlement{Reason: "invalid premium token"}
}
