// Package identity projects host-directory user records into named claims
// and owns the static scope-to-claim association.
package identity

import (
	"fmt"
	"sort"

	"github.com/seatworks/seatidp/pkg/models"
)

// scopeClaims is the single source of truth for which claims each scope
// exposes. Both the claims filter and the discovery document read from it.
var scopeClaims = map[string][]string{
	"profile":          {"name", "preferred_username", "updated_at"},
	"email":            {"email", "email_verified"},
	"seat:user":        {"is_admin"},
	"seat:character":   {"character_id", "character_name"},
	"seat:corporation": {"corporation_id", "alliance_id"},
	"seat:squads":      {"squads"},
}

// alwaysClaims are exposed regardless of which scopes were granted.
var alwaysClaims = []string{"sub", "is_admin"}

// Provider maps directory users to claim sets.
type Provider struct {
	emailDomain string
}

// NewProvider creates a claims provider. emailDomain is the site domain used
// for synthetic addresses.
func NewProvider(emailDomain string) *Provider {
	return &Provider{emailDomain: emailDomain}
}

// SyntheticEmail returns the deterministic, non-enumerable address for a user.
// Accounts have no real mailbox, so the address is derived from the user id.
func (p *Provider) SyntheticEmail(userID int64) string {
	return fmt.Sprintf("seatuser.%d@%s", userID, p.emailDomain)
}

// ClaimsFor computes the full claim set for a user. Claims whose source value
// is absent resolve to an explicit null, never an error.
func (p *Provider) ClaimsFor(user *models.User) map[string]interface{} {
	claims := map[string]interface{}{
		"sub":                fmt.Sprintf("%d", user.ID),
		"is_admin":           user.Admin,
		"name":               user.Name,
		"preferred_username": user.Name,
		"email":              p.SyntheticEmail(user.ID),
		"email_verified":     false,
	}

	if user.UpdatedAt != nil {
		claims["updated_at"] = user.UpdatedAt.Unix()
	} else {
		claims["updated_at"] = nil
	}

	if user.MainCharacterID != nil {
		claims["character_id"] = *user.MainCharacterID
		claims["character_name"] = user.CharacterName
	} else {
		claims["character_id"] = nil
		claims["character_name"] = nil
	}

	if user.CorporationID != nil {
		claims["corporation_id"] = *user.CorporationID
	} else {
		claims["corporation_id"] = nil
	}
	if user.AllianceID != nil {
		claims["alliance_id"] = *user.AllianceID
	} else {
		claims["alliance_id"] = nil
	}

	squads := user.Squads
	if squads == nil {
		squads = []string{}
	}
	claims["squads"] = squads

	return claims
}

// ScopeClaimMap returns the static scope-to-claim association.
func ScopeClaimMap() map[string][]string {
	return scopeClaims
}

// Filter returns the subset of claims reachable from the granted scopes, plus
// the always-included subject and admin claims.
func (p *Provider) Filter(grantedScopes []string, claims map[string]interface{}) map[string]interface{} {
	allowed := make(map[string]bool, len(alwaysClaims))
	for _, name := range alwaysClaims {
		allowed[name] = true
	}
	for _, scope := range grantedScopes {
		for _, name := range scopeClaims[scope] {
			allowed[name] = true
		}
	}

	filtered := make(map[string]interface{}, len(allowed))
	for name, value := range claims {
		if allowed[name] {
			filtered[name] = value
		}
	}
	return filtered
}

// SupportedScopes lists every scope the provider understands, openid first.
func SupportedScopes() []string {
	scopes := make([]string, 0, len(scopeClaims)+1)
	for scope := range scopeClaims {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return append([]string{"openid"}, scopes...)
}

// SupportedClaims lists every claim name any scope can expose, for the
// discovery document.
func SupportedClaims() []string {
	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, name := range alwaysClaims {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, claimNames := range scopeClaims {
		for _, name := range claimNames {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}
