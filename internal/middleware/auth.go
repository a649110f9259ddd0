package middleware

import (
	"net/http"
	"strings"

	"supportdesk/internal/config"
	"supportdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// gin.Context keys set by the auth middlewares.
const (
	KeyUserID       = "user_id"
	KeyCompanyID    = "company_id"
	KeyRoles        = "roles"
	KeyPermissions  = "permissions"
	KeyStaffClaims  = "staff_claims"
	KeyPortalClaims = "portal_claims"
	KeySession      = "session"
)

// defaultRolePermissions applies when RBAC is not explicitly configured.
var defaultRolePermissions = map[string][]string{
	"owner": {"*"},
	"admin": {"*"},
	"agent": {
		"tickets.read", "tickets.write",
		"clients.read",
		"sla.read",
		"forms.read",
		"submissions.read", "submissions.write",
		"portal_accesses.read",
		"articles.read", "articles.write",
		"integrations.read",
	},
}

func bearerToken(c *gin.Context) string {
	ah := c.GetHeader("Authorization")
	if !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		return ""
	}
	return strings.TrimSpace(ah[len("Bearer "):])
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "Unauthorized",
		"message": msg,
	})
}

// AuthMiddleware enforces Authorization: Bearer <staff jwt> on /api routes.
// On success it injects user_id, company_id, roles and permissions into gin.Context.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	secret := ""
	var rbac config.RBACConfig
	if cfg != nil {
		secret = cfg.JWT.Secret
		rbac = cfg.Security.RBAC
	}
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			unauthorized(c, "missing bearer token")
			return
		}
		claims, err := services.ParseStaffToken(secret, token)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}
		setStaff(c, claims, rbac)
		c.Next()
	}
}

func setStaff(c *gin.Context, claims *services.StaffClaims, rbac config.RBACConfig) {
	c.Set(KeyStaffClaims, claims)
	c.Set(KeyUserID, claims.UserID)
	c.Set(KeyCompanyID, claims.CompanyID)

	roles := normalizeStringList(claims.Roles)
	if len(roles) > 0 {
		c.Set(KeyRoles, roles)
	}

	// permissions: 显式声明 + 角色展开
	perms := normalizeStringList(claims.Permissions)
	mapping := defaultRolePermissions
	if rbac.Enabled {
		mapping = rbac.Roles
	}
	for _, role := range roles {
		perms = append(perms, normalizeStringList(mapping[role])...)
	}
	perms = dedupeStrings(perms)
	if len(perms) > 0 {
		c.Set(KeyPermissions, perms)
	}
}

// PortalAuth requires a portal session token issued by the portal login flow.
func PortalAuth(portal *services.PortalService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			unauthorized(c, "missing bearer token")
			return
		}
		claims, err := portal.Authenticate(c.Request.Context(), token)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}
		c.Set(KeyPortalClaims, claims)
		c.Set(KeyCompanyID, claims.CompanyID)
		c.Next()
	}
}

// OptionalSession resolves whichever session the caller presents (staff or
// portal) for public endpoints. Invalid tokens are treated as anonymous.
func OptionalSession(cfg *config.Config, portal *services.PortalService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var sess services.Session
		if token := bearerToken(c); token != "" {
			if staff, err := services.ParseStaffToken(cfg.JWT.Secret, token); err == nil {
				sess.Staff = staff
			} else if p, err := portal.Authenticate(c.Request.Context(), token); err == nil {
				sess.Portal = p
			}
		}
		c.Set(KeySession, sess)
		c.Next()
	}
}

// SessionFrom returns the session stored by OptionalSession (anonymous if absent).
func SessionFrom(c *gin.Context) services.Session {
	if v, ok := c.Get(KeySession); ok {
		if s, ok := v.(services.Session); ok {
			return s
		}
	}
	return services.Session{}
}

// StaffFrom returns the staff claims set by AuthMiddleware.
func StaffFrom(c *gin.Context) (*services.StaffClaims, bool) {
	v, ok := c.Get(KeyStaffClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*services.StaffClaims)
	return claims, ok
}

// PortalFrom returns the portal claims set by PortalAuth.
func PortalFrom(c *gin.Context) (*services.PortalClaims, bool) {
	v, ok := c.Get(KeyPortalClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*services.PortalClaims)
	return claims, ok
}

func normalizeStringList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
