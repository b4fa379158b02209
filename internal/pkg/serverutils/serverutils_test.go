package serverutils

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bioimage-chatbot-be/pkg/ai/router"
	"bioimage-chatbot-be/pkg/collection"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &ValidationError{Fields: map[string]string{"Name": "is required"}}, 400},
		{"unknown channel", fmt.Errorf("resolve: %w", collection.ErrUnknownChannel), 400},
		{"permission", fmt.Errorf("%w: nope", ErrPermissionDenied), 403},
		{"classification", &router.ClassificationError{Attempts: 2, Err: errors.New("bad json")}, 502},
		{"synthesis", &router.SynthesisError{Attempts: 2, Err: errors.New("empty")}, 502},
		{"fiber", fiber.NewError(fiber.StatusNotFound, "gone"), 404},
		{"other", errors.New("boom"), 500},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusFor(tc.err))
		})
	}
}

type profileRequest struct {
	Name       string `validate:"max=32"`
	Occupation string `validate:"max=128"`
	Question   string `validate:"required"`
}

func TestValidateRequest(t *testing.T) {
	require.NoError(t, ValidateRequest(profileRequest{Name: "Ada", Question: "hi"}))

	err := ValidateRequest(profileRequest{Name: string(make([]byte, 33))})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "profileRequest.Name")
	assert.Contains(t, verr.Fields, "profileRequest.Question")
	assert.Equal(t, "is required", verr.Fields["profileRequest.Question"])
}

func TestErrorHandlerMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(ErrorHandlerMiddleware())
	app.Get("/denied", func(ctx *fiber.Ctx) error { return ErrPermissionDenied })
	app.Get("/ok", func(ctx *fiber.Ctx) error { return ctx.JSON(SuccessResponse("fine", 1)) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/denied", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func signed(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestJwtMiddleware(t *testing.T) {
	const secret = "test-secret"

	newApp := func(required bool) *fiber.App {
		app := fiber.New()
		app.Get("/me", JwtMiddleware(secret, required), func(ctx *fiber.Ctx) error {
			email, _ := ctx.Locals("email").(string)
			return ctx.SendString(email)
		})
		return app
	}

	valid := signed(t, secret, jwt.MapClaims{
		"user_id": "u-1",
		"email":   "ada@example.org",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	forged := signed(t, "other-secret", jwt.MapClaims{"email": "eve@example.org"})

	cases := []struct {
		name     string
		required bool
		header   string
		query    string
		want     int
	}{
		{"anonymous allowed", false, "", "", 200},
		{"anonymous rejected", true, "", "", 401},
		{"valid header", true, "Bearer " + valid, "", 200},
		{"valid query token", true, "", "?token=" + valid, 200},
		{"forged token", false, "Bearer " + forged, "", 401},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := newApp(tc.required).Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestAuthorizedUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"users":[{"email":"Ada@Example.org"}]}`), 0o644))

	list, err := LoadAuthorizedUsers(path)
	require.NoError(t, err)

	assert.NoError(t, list.Check("ada@example.org"))
	assert.ErrorIs(t, list.Check("eve@example.org"), ErrPermissionDenied)

	open, err := LoadAuthorizedUsers("")
	require.NoError(t, err)
	assert.NoError(t, open.Check("anyone@example.org"))

	_, err = LoadAuthorizedUsers(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
