package security_test

import (
	"strings"
	"testing"
	"time"

	"github.com/Rrens/postbot/internal/security"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-with-32-chars!!"

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	manager := security.NewJWTManager(testSecret, 15*time.Minute, "postbot")

	token, expiresAt, err := manager.GenerateAdminToken("ops")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if token == "" {
		t.Fatal("token is empty")
	}
	if time.Until(expiresAt) > 15*time.Minute {
		t.Errorf("expiry too far in the future: %v", expiresAt)
	}

	claims, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("subject mismatch: got %q, want %q", claims.Subject, "ops")
	}
	if claims.Role != security.RoleAdmin {
		t.Errorf("role mismatch: got %q", claims.Role)
	}
}

func TestJWTManager_Rejects(t *testing.T) {
	manager := security.NewJWTManager(testSecret, 15*time.Minute, "postbot")
	valid, _, _ := manager.GenerateAdminToken("ops")

	expired, _, _ := security.NewJWTManager(testSecret, -time.Minute, "postbot").GenerateAdminToken("ops")
	otherSecret, _, _ := security.NewJWTManager("another-secret-key-32-chars!!!!", time.Minute, "postbot").GenerateAdminToken("ops")
	otherIssuer, _, _ := security.NewJWTManager(testSecret, time.Minute, "someone-else").GenerateAdminToken("ops")

	nonAdmin := jwt.NewWithClaims(jwt.SigningMethodHS256, security.Claims{
		Role: "viewer",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "postbot",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	nonAdminToken, _ := nonAdmin.SignedString([]byte(testSecret))

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong secret", otherSecret},
		{"wrong issuer", otherIssuer},
		{"not admin", nonAdminToken},
		{"tampered", strings.Replace(valid, ".", ".x", 1)},
		{"garbage", "not.a.token"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := manager.ValidateToken(tt.token); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestJWTManager_NoSecret(t *testing.T) {
	_, _, err := security.NewJWTManager("", time.Minute, "postbot").GenerateAdminToken("ops")
	if err == nil || !strings.Contains(err.Error(), "secret") {
		t.Errorf("expected missing secret error, got %v", err)
	}
}
