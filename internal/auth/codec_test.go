package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/marshal-client/internal/domain"
)

var testNow = time.Unix(1_700_000_000, 0)

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func tokenExpiringIn(t *testing.T, d time.Duration) string {
	t.Helper()
	return mintToken(t, jwt.MapClaims{
		"sub":  "42",
		"role": "marshal",
		"iat":  testNow.Add(-time.Hour).Unix(),
		"exp":  testNow.Add(d).Unix(),
	})
}

// tokenWithPayloadRemainder builds an unsigned token whose payload segment
// length has the requested remainder modulo 4.
func tokenWithPayloadRemainder(t *testing.T, remainder int) string {
	t.Helper()
	for i := 0; i < 6; i++ {
		payload := `{"sub":"7","exp":` + "1700003600" + `,"n":"` + strings.Repeat("x", i) + `"}`
		segment := base64.RawURLEncoding.EncodeToString([]byte(payload))
		if len(segment)%4 == remainder {
			return "eyJhbGciOiJIUzI1NiJ9." + segment + ".c2ln"
		}
	}
	t.Fatalf("no payload with remainder %d", remainder)
	return ""
}

func testCodec() TokenCodec {
	return TokenCodec{Threshold: 10 * time.Minute, Now: func() time.Time { return testNow }}
}

func TestDecode_ReturnsExpiry(t *testing.T) {
	token := tokenExpiringIn(t, time.Hour)

	claims := Decode(token)
	require.NotNil(t, claims)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, domain.RoleMarshal, claims.Role)
	assert.True(t, claims.ExpiresAt.Equal(testNow.Add(time.Hour)))
	assert.True(t, claims.IssuedAt.Equal(testNow.Add(-time.Hour)))
	assert.True(t, testCodec().IsValid(token))
}

func TestDecode_SubjectFallsBackToID(t *testing.T) {
	token := mintToken(t, jwt.MapClaims{"id": 17, "email": "m@example.com", "exp": testNow.Unix()})

	claims := Decode(token)
	require.NotNil(t, claims)
	assert.Equal(t, "17", claims.Subject)
}

func TestDecode_Malformed(t *testing.T) {
	valid := tokenExpiringIn(t, time.Hour)
	parts := strings.Split(valid, ".")

	tests := map[string]string{
		"empty":          "",
		"two segments":   parts[0] + "." + parts[1],
		"four segments":  valid + ".extra",
		"not base64":     parts[0] + ".@@@@." + parts[2],
		"not json":       parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte("hello")) + "." + parts[2],
		"invalid utf8":   parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte{0xff, 0xfe, 0xfd}) + "." + parts[2],
		"exp not number": parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(`{"exp":"soon"}`)) + "." + parts[2],
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Nil(t, Decode(token))
			})
		})
	}
}

func TestDecode_PaddingRepair(t *testing.T) {
	for _, remainder := range []int{2, 3, 0} {
		token := tokenWithPayloadRemainder(t, remainder)
		claims := Decode(token)
		require.NotNil(t, claims, "remainder %d", remainder)
		assert.Equal(t, "7", claims.Subject)
	}

	aligned := tokenWithPayloadRemainder(t, 0)
	parts := strings.Split(aligned, ".")
	broken := parts[0] + "." + parts[1] + "A." + parts[2]
	assert.Nil(t, Decode(broken))
}

func TestDecode_URLSafeAlphabet(t *testing.T) {
	payload := `{"sub":"9","exp":1700003600,"note":"????????>>>>>>>>"}`
	segment := base64.RawURLEncoding.EncodeToString([]byte(payload))
	require.Contains(t, segment, "_")
	require.Contains(t, segment, "-")

	claims := Decode("eyJhbGciOiJIUzI1NiJ9." + segment + ".c2ln")
	require.NotNil(t, claims)
	assert.Equal(t, "9", claims.Subject)
}

func TestClassify(t *testing.T) {
	codec := testCodec()

	tests := []struct {
		name string
		in   time.Duration
		want domain.TokenState
	}{
		{name: "an hour left", in: time.Hour, want: domain.TokenValid},
		{name: "fifteen minutes left", in: 15 * time.Minute, want: domain.TokenValid},
		{name: "exactly at threshold", in: 10 * time.Minute, want: domain.TokenValid},
		{name: "five minutes left", in: 5 * time.Minute, want: domain.TokenExpiringSoon},
		{name: "one second left", in: time.Second, want: domain.TokenExpiringSoon},
		{name: "expires now", in: 0, want: domain.TokenExpired},
		{name: "expired a second ago", in: -time.Second, want: domain.TokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, _ := codec.State(tokenExpiringIn(t, tt.in))
			assert.Equal(t, tt.want, state)
		})
	}
}

func TestTokenCodec_Predicates(t *testing.T) {
	codec := testCodec()

	assert.False(t, codec.IsValid(tokenExpiringIn(t, -time.Second)))
	assert.True(t, codec.IsExpiringSoon(tokenExpiringIn(t, 300*time.Second)))
	assert.False(t, codec.IsExpiringSoon(tokenExpiringIn(t, 900*time.Second)))
	assert.False(t, codec.IsValid("garbage"))
}

func TestClassify_MissingExpiryIsExpired(t *testing.T) {
	claims := Decode(mintToken(t, jwt.MapClaims{"sub": "1"}))
	require.NotNil(t, claims)
	assert.Equal(t, domain.TokenExpired, Classify(claims, time.Minute, testNow))
	assert.Equal(t, domain.TokenExpired, Classify(nil, time.Minute, testNow))
}
