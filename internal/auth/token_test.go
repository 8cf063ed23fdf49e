package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-portal/internal/identity"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestTokenService(now time.Time) *TokenService {
	svc := NewTokenService(TokenConfig{
		Secret:   testSecret,
		Issuer:   "property-portal",
		Audience: "property-portal-web",
	})
	svc.now = func() time.Time { return now }
	return svc
}

func testIdentity() Identity {
	return Identity{
		UserID:      42,
		Email:       "owner@example.com",
		Role:        identity.RoleAdmin,
		Name:        "Dana Owner",
		CompanyName: "Harbor Estates",
	}
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(now)

	for _, kind := range []TokenKind{TokenAccess, TokenRefresh, TokenEmailVerification, TokenPasswordReset} {
		t.Run(string(kind), func(t *testing.T) {
			token, err := svc.IssueDefault(testIdentity(), kind)
			require.NoError(t, err)

			claims, err := svc.Verify(token)
			require.NoError(t, err)

			assert.Equal(t, int64(42), claims.UserID)
			assert.Equal(t, "owner@example.com", claims.Email)
			assert.Equal(t, identity.RoleAdmin, claims.Role)
			assert.Equal(t, "Dana Owner", claims.Name)
			assert.Equal(t, "Harbor Estates", claims.CompanyName)
			assert.Equal(t, kind, claims.Type)
			assert.Equal(t, "property-portal", claims.Issuer)
			assert.Equal(t, jwt.ClaimStrings{"property-portal-web"}, claims.Audience)
			assert.Equal(t, now, claims.IssuedAt.Time.UTC())
			assert.Equal(t, now.Add(svc.TTL(kind)), claims.ExpiresAt.Time.UTC())
		})
	}
}

func TestTokenSingleBitMutationIsRejected(t *testing.T) {
	svc := newTestTokenService(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))

	token, err := svc.IssueDefault(testIdentity(), TokenAccess)
	require.NoError(t, err)

	for i := 0; i < len(token); i++ {
		for bit := 0; bit < 8; bit++ {
			mutated := []byte(token)
			mutated[i] ^= 1 << bit

			_, err := svc.Verify(string(mutated))
			require.Errorf(t, err, "byte %d bit %d", i, bit)
			assert.Equal(t, KindInvalidToken, KindOf(err))
		}
	}
}

func TestTokenZeroTTLIsAlreadyExpired(t *testing.T) {
	svc := newTestTokenService(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))

	token, err := svc.Issue(testIdentity(), TokenAccess, 0)
	require.NoError(t, err)

	_, err = svc.Verify(token)
	require.Error(t, err)
	assert.Equal(t, KindInvalidToken, KindOf(err))
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokenExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(now)

	token, err := svc.Issue(testIdentity(), TokenAccess, time.Minute)
	require.NoError(t, err)

	svc.now = func() time.Time { return now.Add(59 * time.Second) }
	_, err = svc.Verify(token)
	require.NoError(t, err)

	svc.now = func() time.Time { return now.Add(time.Minute) }
	_, err = svc.Verify(token)
	assert.Equal(t, KindInvalidToken, KindOf(err))
}

func TestTokenNegativeTTLRejected(t *testing.T) {
	svc := newTestTokenService(time.Now())

	_, err := svc.Issue(testIdentity(), TokenAccess, -time.Second)
	assert.ErrorIs(t, err, errNegativeTTL)
}

func TestTokenUnknownKindRejected(t *testing.T) {
	svc := newTestTokenService(time.Now())

	_, err := svc.Issue(testIdentity(), TokenKind("api_key"), time.Minute)
	assert.ErrorIs(t, err, errUnknownKind)
}

func TestTokenUnknownRoleRejected(t *testing.T) {
	svc := newTestTokenService(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))

	subject := testIdentity()
	subject.Role = identity.Role("superuser")
	token, err := svc.IssueDefault(subject, TokenAccess)
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.Equal(t, KindInvalidToken, KindOf(err))

	subject.Role = ""
	token, err = svc.IssueDefault(subject, TokenAccess)
	require.NoError(t, err)
	_, err = svc.Verify(token)
	assert.Equal(t, KindInvalidToken, KindOf(err))
}

func TestTokenIssuerAndAudienceMismatch(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(now)

	otherIssuer := NewTokenService(TokenConfig{Secret: testSecret, Issuer: "someone-else", Audience: "property-portal-web"})
	otherIssuer.now = svc.now
	token, err := otherIssuer.IssueDefault(testIdentity(), TokenAccess)
	require.NoError(t, err)
	_, err = svc.Verify(token)
	assert.Equal(t, KindInvalidToken, KindOf(err))

	otherAudience := NewTokenService(TokenConfig{Secret: testSecret, Issuer: "property-portal", Audience: "mobile"})
	otherAudience.now = svc.now
	token, err = otherAudience.IssueDefault(testIdentity(), TokenAccess)
	require.NoError(t, err)
	_, err = svc.Verify(token)
	assert.Equal(t, KindInvalidToken, KindOf(err))
}

func TestTokenWrongSecretAndAlgorithm(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(now)

	other := NewTokenService(TokenConfig{Secret: "another-secret-another-secret-xx", Issuer: "property-portal", Audience: "property-portal-web"})
	other.now = svc.now
	token, err := other.IssueDefault(testIdentity(), TokenAccess)
	require.NoError(t, err)
	_, err = svc.Verify(token)
	assert.Equal(t, KindInvalidToken, KindOf(err))

	claims := Claims{
		UserID: 42,
		Email:  "owner@example.com",
		Role:   identity.RoleUser,
		Type:   TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "property-portal",
			Audience:  jwt.ClaimStrings{"property-portal-web"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = svc.Verify(hs512)
	assert.Equal(t, KindInvalidToken, KindOf(err))

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Verify(unsigned)
	assert.Equal(t, KindInvalidToken, KindOf(err))
}

func TestTokenEmptySecretFailsClosed(t *testing.T) {
	svc := NewTokenService(TokenConfig{Issuer: "property-portal", Audience: "property-portal-web"})

	_, err := svc.IssueDefault(testIdentity(), TokenAccess)
	assert.ErrorIs(t, err, errEmptySecret)

	signer := newTestTokenService(time.Now())
	token, err := signer.IssueDefault(testIdentity(), TokenAccess)
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.Equal(t, KindInvalidToken, KindOf(err))
}

func TestVerifyKind(t *testing.T) {
	svc := newTestTokenService(time.Now())

	refresh, err := svc.IssueDefault(testIdentity(), TokenRefresh)
	require.NoError(t, err)

	_, err = svc.VerifyKind(refresh, TokenRefresh)
	require.NoError(t, err)

	_, err = svc.VerifyKind(refresh, TokenAccess)
	assert.Equal(t, KindInvalidToken, KindOf(err))
	assert.ErrorIs(t, err, errKindMismatch)
}

func TestCreateTokenPair(t *testing.T) {
	svc := newTestTokenService(time.Now())

	pair, err := svc.CreateTokenPair(testIdentity())
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, pair.ExpiresIn)

	access, err := svc.VerifyKind(pair.AccessToken, TokenAccess)
	require.NoError(t, err)
	refresh, err := svc.VerifyKind(pair.RefreshToken, TokenRefresh)
	require.NoError(t, err)
	assert.Equal(t, access.UserID, refresh.UserID)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := newTestTokenService(time.Now())

	for _, token := range []string{"", "abc", "a.b.c", "eyJhbGciOiJIUzI1NiJ9..sig"} {
		_, err := svc.Verify(token)
		assert.Equal(t, KindInvalidToken, KindOf(err), token)
	}
}
