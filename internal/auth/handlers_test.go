package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pashagolub/pgxmock/v3"
	"golang.org/x/crypto/bcrypt"
)

func postJSON(t *testing.T, app *fiber.App, path string, body []byte) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp
}

func TestAuthHandlersRegisterLoginVerify(t *testing.T) {
	mock := newMock(t)
	createdAt := time.Now()

	mock.ExpectQuery(`INSERT INTO athletes`).
		WithArgs(pgxmock.AnyArg(), "rider@example.com", "Rider", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(createdAt))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService("test-secret", mock)
	app := fiber.New()
	RegisterRoutes(app.Group("/auth"), svc)

	body, _ := json.Marshal(RegisterRequest{Email: "rider@example.com", DisplayName: "Rider", Password: "password123"})
	if resp := postJSON(t, app, "/auth/register", body); resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status: %d", resp.StatusCode)
	}

	hash, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	mock.ExpectQuery(`SELECT id, email, display_name, password_hash, created_at`).
		WithArgs("rider@example.com").
		WillReturnRows(pgxmock.NewRows(athleteColumns).
			AddRow("athlete-1", "rider@example.com", "Rider", string(hash), createdAt))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), "athlete-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	body, _ = json.Marshal(LoginRequest{Email: "rider@example.com", Password: "password123"})
	if resp := postJSON(t, app, "/auth/login", body); resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: %d", resp.StatusCode)
	}

	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), "athlete-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	tokens, _ := svc.GenerateTokens(context.Background(), "athlete-1")

	req := httptest.NewRequest(http.MethodGet, "/auth/jwt/verify", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status: %v", err)
	}
	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out["athlete_id"] != "athlete-1" {
		t.Fatalf("unexpected verify body: %v", out)
	}
}

func TestAuthRefreshSuccess(t *testing.T) {
	mock := newMock(t)
	svc := NewService("secret", mock)

	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), "athlete-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	refresh, err := svc.GenerateTokens(context.Background(), "athlete-1")
	if err != nil {
		t.Fatalf("generate tokens: %v", err)
	}

	mock.ExpectQuery(`SELECT athlete_id, expires_at`).
		WithArgs(refresh.RefreshToken).
		WillReturnRows(pgxmock.NewRows([]string{"athlete_id", "expires_at"}).AddRow("athlete-1", time.Now().Add(5*time.Minute)))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), "athlete-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	app := fiber.New()
	RegisterRoutes(app.Group("/auth"), svc)

	body, _ := json.Marshal(RefreshRequest{RefreshToken: refresh.RefreshToken})
	if resp := postJSON(t, app, "/auth/refresh", body); resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status: %d", resp.StatusCode)
	}
}

func TestAuthRefreshGenerateTokensError(t *testing.T) {
	mock := newMock(t)
	svc := NewService("secret", mock)
	refresh, err := svc.signToken("athlete-1", refreshTokenTTL)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	mock.ExpectQuery(`SELECT athlete_id, expires_at`).
		WithArgs(refresh).
		WillReturnRows(pgxmock.NewRows([]string{"athlete_id", "expires_at"}).AddRow("athlete-1", time.Now().Add(time.Minute)))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), "athlete-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgErr)

	app := fiber.New()
	RegisterRoutes(app.Group("/auth"), svc)

	body, _ := json.Marshal(RefreshRequest{RefreshToken: refresh})
	if resp := postJSON(t, app, "/auth/refresh", body); resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected refresh error, got %d", resp.StatusCode)
	}
}

func TestAuthBadRequests(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/auth"), NewService("secret", nil))

	cases := []struct {
		path string
		body string
		want int
	}{
		{"/auth/register", "{bad", http.StatusBadRequest},
		{"/auth/register", `{"email":"rider@example.com","display_name":"Rider","password":"short"}`, http.StatusBadRequest},
		{"/auth/login", `{"email":""}`, http.StatusBadRequest},
		{"/auth/refresh", `{}`, http.StatusBadRequest},
		{"/auth/refresh", `{"refresh_token":"bad"}`, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		if resp := postJSON(t, app, tc.path, []byte(tc.body)); resp.StatusCode != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.path, tc.body, tc.want, resp.StatusCode)
		}
	}
}

func TestAuthLoginUnauthorized(t *testing.T) {
	mock := newMock(t)
	hash, _ := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.DefaultCost)
	mock.ExpectQuery(`SELECT id, email, display_name, password_hash, created_at`).
		WithArgs("rider@example.com").
		WillReturnRows(pgxmock.NewRows(athleteColumns).
			AddRow("athlete-1", "rider@example.com", "Rider", string(hash), time.Now()))

	app := fiber.New()
	RegisterRoutes(app.Group("/auth"), NewService("secret", mock))

	body, _ := json.Marshal(LoginRequest{Email: "rider@example.com", Password: "wrong"})
	if resp := postJSON(t, app, "/auth/login", body); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", resp.StatusCode)
	}
}

func TestAuthVerifyRejectsMissingAndInvalid(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/auth"), NewService("secret", nil))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/auth/jwt/verify", nil))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized without bearer")
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/jwt/verify", nil)
	req.Header.Set("Authorization", "Bearer bad")
	resp, err = app.Test(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for bad token")
	}
}
