package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatworks/seatidp/pkg/models"
)

func testUser() *models.User {
	charID := int64(90001)
	corpID := int64(2001)
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.User{
		ID:              42,
		Name:            "Red Pilot",
		Admin:           true,
		Active:          true,
		MainCharacterID: &charID,
		CharacterName:   "Red Pilot Prime",
		CorporationID:   &corpID,
		Squads:          []string{"logistics", "recon"},
		UpdatedAt:       &updated,
	}
}

func TestSyntheticEmail(t *testing.T) {
	p := NewProvider("sso.example")
	assert.Equal(t, "seatuser.42@sso.example", p.SyntheticEmail(42))
}

func TestClaimsForFullUser(t *testing.T) {
	p := NewProvider("sso.example")
	claims := p.ClaimsFor(testUser())

	assert.Equal(t, "42", claims["sub"])
	assert.Equal(t, true, claims["is_admin"])
	assert.Equal(t, "Red Pilot", claims["name"])
	assert.Equal(t, "Red Pilot", claims["preferred_username"])
	assert.Equal(t, "seatuser.42@sso.example", claims["email"])
	assert.Equal(t, false, claims["email_verified"])
	assert.Equal(t, int64(90001), claims["character_id"])
	assert.Equal(t, "Red Pilot Prime", claims["character_name"])
	assert.Equal(t, int64(2001), claims["corporation_id"])
	assert.Equal(t, []string{"logistics", "recon"}, claims["squads"])
}

func TestClaimsForAbsentSourcesAreNull(t *testing.T) {
	p := NewProvider("sso.example")
	user := &models.User{ID: 7, Name: "Lone Pilot", Active: true}
	claims := p.ClaimsFor(user)

	// Absent sources resolve to explicit nulls, not missing keys.
	for _, name := range []string{"character_id", "character_name", "corporation_id", "alliance_id", "updated_at"} {
		value, ok := claims[name]
		require.True(t, ok, name)
		assert.Nil(t, value, name)
	}
	assert.Equal(t, []string{}, claims["squads"])
}

func TestFilterAlwaysIncludesSubjectAndAdmin(t *testing.T) {
	p := NewProvider("sso.example")
	claims := p.ClaimsFor(testUser())

	filtered := p.Filter(nil, claims)
	assert.Equal(t, "42", filtered["sub"])
	assert.Equal(t, true, filtered["is_admin"])
	assert.NotContains(t, filtered, "email")
	assert.NotContains(t, filtered, "name")
	assert.NotContains(t, filtered, "squads")
}

func TestFilterByScope(t *testing.T) {
	p := NewProvider("sso.example")
	claims := p.ClaimsFor(testUser())

	filtered := p.Filter([]string{"openid", "email", "seat:squads"}, claims)
	assert.Contains(t, filtered, "email")
	assert.Contains(t, filtered, "email_verified")
	assert.Contains(t, filtered, "squads")
	assert.NotContains(t, filtered, "character_id")
	assert.NotContains(t, filtered, "corporation_id")
	assert.NotContains(t, filtered, "preferred_username")
}

func TestFilterUnknownScopeExposesNothingExtra(t *testing.T) {
	p := NewProvider("sso.example")
	claims := p.ClaimsFor(testUser())

	filtered := p.Filter([]string{"made:up"}, claims)
	assert.Len(t, filtered, 2)
}

func TestSupportedScopesLeadWithOpenID(t *testing.T) {
	scopes := SupportedScopes()
	require.NotEmpty(t, scopes)
	assert.Equal(t, "openid", scopes[0])
	assert.Contains(t, scopes, "seat:corporation")
	assert.Contains(t, scopes, "profile")
}

func TestSupportedClaimsCoverScopeMap(t *testing.T) {
	names := SupportedClaims()
	assert.Contains(t, names, "sub")
	assert.Contains(t, names, "is_admin")
	assert.Contains(t, names, "squads")
	assert.Contains(t, names, "email_verified")
}
