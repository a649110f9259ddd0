package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	audienceStaff  = "staff"
	audiencePortal = "portal"
)

// StaffClaims 员工会话，按公司签发
type StaffClaims struct {
	UserID      uint     `json:"user_id"`
	CompanyID   uint     `json:"company_id"`
	Name        string   `json:"name,omitempty"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// PortalClaims 门户会话
type PortalClaims struct {
	PortalAccessID uint `json:"portal_access_id"`
	ClientID       uint `json:"client_id"`
	CompanyID      uint `json:"company_id"`
	jwt.RegisteredClaims
}

// Session 一次请求携带的身份；都为空即匿名
type Session struct {
	Staff  *StaffClaims
	Portal *PortalClaims
}

// IssueStaffToken 签发员工 JWT
func IssueStaffToken(secret, issuer string, ttl time.Duration, claims StaffClaims) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   fmt.Sprintf("%d", claims.UserID),
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{audienceStaff},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseStaffToken 校验员工 JWT
func ParseStaffToken(secret, token string) (*StaffClaims, error) {
	claims := &StaffClaims{}
	if err := parseHS256(secret, token, audienceStaff, claims); err != nil {
		return nil, err
	}
	if claims.UserID == 0 || claims.CompanyID == 0 {
		return nil, fmt.Errorf("%w: token missing user or company", ErrUnauthorized)
	}
	return claims, nil
}

func issuePortalToken(secret string, ttl time.Duration, claims PortalClaims) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   fmt.Sprintf("%d", claims.PortalAccessID),
		Audience:  jwt.ClaimStrings{audiencePortal},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParsePortalToken 校验门户 JWT
func ParsePortalToken(secret, token string) (*PortalClaims, error) {
	claims := &PortalClaims{}
	if err := parseHS256(secret, token, audiencePortal, claims); err != nil {
		return nil, err
	}
	if claims.PortalAccessID == 0 || claims.ClientID == 0 {
		return nil, fmt.Errorf("%w: token missing portal identity", ErrUnauthorized)
	}
	return claims, nil
}

func parseHS256(secret, token, audience string, claims jwt.Claims) error {
	if secret == "" {
		return fmt.Errorf("%w: signing secret not configured", ErrUnauthorized)
	}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: token expired", ErrUnauthorized)
		}
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}
