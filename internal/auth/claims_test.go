package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing-000"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("ops", RoleOperator, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("Subject = %q, want ops", claims.Subject)
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want operator", claims.Role)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	token, err := GenerateToken("ops", RoleViewer, testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != DefaultTokenTTL {
		t.Errorf("ttl = %v, want %v", ttl, DefaultTokenTTL)
	}
}

func TestGenerateToken_Rejects(t *testing.T) {
	if _, err := GenerateToken("", RoleViewer, testSecret, 0); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("empty subject error = %v, want ErrTokenInvalid", err)
	}
	if _, err := GenerateToken("ops", Role("root"), testSecret, 0); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("unknown role error = %v, want ErrInvalidRole", err)
	}
}

func TestParseToken_Invalid(t *testing.T) {
	valid, err := GenerateToken("ops", RoleAdmin, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	expired := signClaims(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Role: RoleAdmin,
	})
	noRole := signClaims(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	noSubject := signClaims(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Role: RoleViewer,
	})

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"garbage", "not-a-valid-jwt", testSecret},
		{"wrong secret", valid, "another-secret-key-for-jwt-000000"},
		{"expired", expired, testSecret},
		{"missing role", noRole, testSecret},
		{"missing subject", noSubject, testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token, tt.secret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Role: RoleAdmin,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if _, err := ParseToken(token, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken(HS512) error = %v, want ErrTokenInvalid", err)
	}
}

func TestPermissions(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermDeviceRead, true},
		{RoleViewer, PermCommandDispatch, false},
		{RoleOperator, PermCommandDispatch, true},
		{RoleOperator, PermCommandExpire, false},
		{RoleAdmin, PermCommandExpire, true},
		{RoleViewer, PermAutomationRead, true},
		{RoleOperator, PermAutomationExecute, true},
		{RoleOperator, PermAutomationWrite, false},
		{RoleOperator, PermAuditRead, false},
		{RoleAdmin, PermAuditRead, true},
		{Role("root"), PermDeviceRead, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}

	perms := PermissionsForRole(RoleAdmin)
	perms[0] = "mutated"
	if PermissionsForRole(RoleAdmin)[0] == "mutated" {
		t.Error("PermissionsForRole() returned shared slice")
	}
	if PermissionsForRole(Role("root")) != nil {
		t.Error("PermissionsForRole(unknown) should be nil")
	}
}

func signClaims(t *testing.T, c Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return token
}
