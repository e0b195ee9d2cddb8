package middleware

import "github.com/gofiber/fiber/v2"

// MentorAuth guards the mentor routes. Without a secret the routes stay open,
// which keeps the e-mail assignment links of a single-tenant deployment working.
func MentorAuth(secret string) []fiber.Handler {
	if secret == "" {
		return nil
	}

	return []fiber.Handler{
		JWTProtected(secret),
		RequireRole(RoleMentor, RoleAdmin),
	}
}
