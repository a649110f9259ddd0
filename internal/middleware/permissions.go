package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HasPermission returns true if `required` is satisfied by any permission in `granted`.
// Supported patterns:
// - "*" matches everything
// - "resource.*" matches "resource.<anything>"
// - exact match
func HasPermission(granted []string, required string) bool {
	required = strings.TrimSpace(required)
	if required == "" {
		return true
	}
	for _, p := range granted {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p == "*" || p == required {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if prefix != "" && (required == prefix || strings.HasPrefix(required, prefix+".")) {
				return true
			}
		}
	}
	return false
}

func getGrantedPermissions(c *gin.Context) []string {
	if v, ok := c.Get(KeyPermissions); ok {
		if perms, ok := v.([]string); ok {
			return perms
		}
	}
	return nil
}

func forbidden(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error":   "Forbidden",
		"message": msg,
	})
}

// RequirePermissionsAny requires the caller to have at least one of the listed permissions.
func RequirePermissionsAny(required ...string) gin.HandlerFunc {
	req := normalizeStringList(required)
	return func(c *gin.Context) {
		granted := getGrantedPermissions(c)
		for _, r := range req {
			if HasPermission(granted, r) {
				c.Next()
				return
			}
		}
		forbidden(c, "insufficient permission")
	}
}

// RequireResourcePermission enforces "<resource>.read" for safe methods, "<resource>.delete" for DELETE
// and "<resource>.write" for the other mutating methods.
func RequireResourcePermission(resource string) gin.HandlerFunc {
	resource = strings.TrimSpace(resource)
	return func(c *gin.Context) {
		perm := resource + ".write"
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			perm = resource + ".read"
		case http.MethodDelete:
			perm = resource + ".delete"
		}
		RequirePermissionsAny(perm)(c)
	}
}

// RequireRolesAny checks that the caller holds at least one of the roles.
func RequireRolesAny(required ...string) gin.HandlerFunc {
	reqSet := make(map[string]struct{}, len(required))
	for _, r := range required {
		reqSet[r] = struct{}{}
	}
	return func(c *gin.Context) {
		if v, ok := c.Get(KeyRoles); ok {
			if roles, ok := v.([]string); ok {
				for _, r := range roles {
					if _, ok := reqSet[r]; ok {
						c.Next()
						return
					}
				}
			}
		}
		forbidden(c, "insufficient role")
	}
}
