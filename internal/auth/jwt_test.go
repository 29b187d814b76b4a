package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"credit_gateway/internal/config"
	"credit_gateway/internal/models"
)

func getTestConfig() *config.Config {
	return &config.Config{
		JWTSecret: []byte("test-secret-key-for-testing"),
	}
}

func testUser(role string) *models.User {
	return &models.User{
		ID:    uuid.New(),
		Email: "user@example.com",
		Role:  role,
	}
}

func TestGenerateAndValidateUserJWT(t *testing.T) {
	cfg := getTestConfig()
	user := testUser(models.RoleSubscriber)

	token, expiresAt, err := GenerateUserJWT(user, cfg)
	if err != nil {
		t.Fatalf("GenerateUserJWT() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateUserJWT() returned empty token")
	}
	if expiresAt <= time.Now().Unix() {
		t.Error("token expires in the past")
	}

	claims, err := ValidateUserJWT(token, cfg)
	if err != nil {
		t.Fatalf("ValidateUserJWT() error = %v", err)
	}
	if claims.UserID != user.ID.String() {
		t.Errorf("UserID = %s, want %s", claims.UserID, user.ID)
	}
	if claims.Email != user.Email {
		t.Errorf("Email = %s, want %s", claims.Email, user.Email)
	}
	if claims.Role != models.RoleSubscriber {
		t.Errorf("Role = %s, want %s", claims.Role, models.RoleSubscriber)
	}
}

func TestValidateUserJWTWrongSecret(t *testing.T) {
	user := testUser(models.RoleAdmin)

	token, _, err := GenerateUserJWT(user, getTestConfig())
	if err != nil {
		t.Fatalf("GenerateUserJWT() error = %v", err)
	}

	otherCfg := &config.Config{JWTSecret: []byte("a-different-secret")}
	if _, err := ValidateUserJWT(token, otherCfg); err == nil {
		t.Error("expected validation to fail with wrong secret")
	}
}

func TestValidateUserJWTExpired(t *testing.T) {
	cfg := getTestConfig()
	user := testUser(models.RoleEditor)

	claims := UserClaims{
		UserID: user.ID.String(),
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cfg.JWTSecret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := ValidateUserJWT(signed, cfg); err == nil {
		t.Error("expected validation to fail for expired token")
	}
}

func TestValidateUserJWTGarbage(t *testing.T) {
	if _, err := ValidateUserJWT("not-a-token", getTestConfig()); err == nil {
		t.Error("expected validation to fail for malformed token")
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	if !CheckPassword("correct horse battery staple", hash) {
		t.Error("CheckPassword() rejected the right password")
	}
	if CheckPassword("wrong password", hash) {
		t.Error("CheckPassword() accepted the wrong password")
	}
}
