package serverutils

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JwtMiddleware verifies an HS256 bearer token and stores its claims under
// "user_id" and "email". With required=false a missing token passes through
// anonymously, a present but invalid one is still rejected.
func JwtMiddleware(secret string, required bool) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		authHeader := ctx.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			// websocket clients cannot set headers from the browser
			if token := ctx.Query("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			if required {
				return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(401, "Missing token"))
			}
			return ctx.Next()
		}
		tokenStr := authHeader[7:]

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		if err != nil || !token.Valid {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(401, "Invalid token"))
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(401, "Invalid claims"))
		}

		if id, ok := claims["user_id"].(string); ok {
			ctx.Locals("user_id", id)
		} else if sub, err := claims.GetSubject(); err == nil && sub != "" {
			ctx.Locals("user_id", sub)
		}
		if email, ok := claims["email"].(string); ok {
			ctx.Locals("email", email)
		}
		return ctx.Next()
	}
}
