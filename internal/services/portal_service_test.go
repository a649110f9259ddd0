package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"supportdesk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortalService_CreateAccessAndExchangeToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	access, err := f.portal.CreateAccess(ctx, f.company.ID, &PortalAccessCreateRequest{ClientID: f.client.ID, Email: " Bob@Globex.com ", Name: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "bob@globex.com", access.Email)
	assert.NotEmpty(t, access.AccessToken)
	assert.True(t, access.Active)

	_, err = f.portal.CreateAccess(ctx, f.company.ID, &PortalAccessCreateRequest{ClientID: f.client.ID, Email: "bob@globex.com"})
	assert.True(t, errors.Is(err, ErrConflict))

	login, err := f.portal.ExchangeToken(ctx, access.AccessToken)
	require.NoError(t, err)
	assert.NotEmpty(t, login.Token)

	claims, err := f.portal.ParseSession(login.Token)
	require.NoError(t, err)
	assert.Equal(t, access.ID, claims.PortalAccessID)
	assert.Equal(t, f.client.ID, claims.ClientID)
	assert.Equal(t, f.company.ID, claims.CompanyID)

	var stored models.PortalAccess
	require.NoError(t, f.db.First(&stored, access.ID).Error)
	assert.NotNil(t, stored.LastLoginAt)

	_, err = f.portal.ExchangeToken(ctx, "bogus")
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = f.portal.SetActive(ctx, f.company.ID, access.ID, false)
	require.NoError(t, err)
	_, err = f.portal.ExchangeToken(ctx, access.AccessToken)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestPortalService_RotateToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	access, err := f.portal.CreateAccess(ctx, f.company.ID, &PortalAccessCreateRequest{ClientID: f.client.ID, Email: "bob@globex.com"})
	require.NoError(t, err)
	old := access.AccessToken

	rotated, err := f.portal.RotateToken(ctx, f.company.ID, access.ID)
	require.NoError(t, err)
	assert.NotEqual(t, old, rotated.AccessToken)

	_, err = f.portal.ExchangeToken(ctx, old)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	_, err = f.portal.ExchangeToken(ctx, rotated.AccessToken)
	assert.NoError(t, err)
}

func TestPortalService_OTPFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	access, err := f.portal.CreateAccess(ctx, f.company.ID, &PortalAccessCreateRequest{ClientID: f.client.ID, Email: "bob@globex.com"})
	require.NoError(t, err)

	require.NoError(t, f.portal.RequestOTP(ctx, f.company.Slug, f.client.Slug, "BOB@globex.com"))
	require.Len(t, f.notifier.sent, 1)
	code := f.notifier.last()
	assert.Len(t, code, 6)
	assert.Equal(t, access.ID, f.notifier.sent[0].accessID)

	_, err = f.portal.VerifyOTP(ctx, f.company.Slug, f.client.Slug, "bob@globex.com", "not-it")
	assert.True(t, errors.Is(err, ErrUnauthorized))

	login, err := f.portal.VerifyOTP(ctx, f.company.Slug, f.client.Slug, "bob@globex.com", code)
	require.NoError(t, err)
	assert.Equal(t, access.ID, login.Access.ID)

	// 验证码只能使用一次
	_, err = f.portal.VerifyOTP(ctx, f.company.Slug, f.client.Slug, "bob@globex.com", code)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestPortalService_OTPUnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t)
	err := f.portal.RequestOTP(context.Background(), f.company.Slug, f.client.Slug, "nobody@globex.com")
	assert.NoError(t, err)
	assert.Empty(t, f.notifier.sent)

	err = f.portal.RequestOTP(context.Background(), f.company.Slug, "missing-client", "nobody@globex.com")
	assert.NoError(t, err)
}

func TestPortalService_OTPExpiryAndAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.portal.CreateAccess(ctx, f.company.ID, &PortalAccessCreateRequest{ClientID: f.client.ID, Email: "bob@globex.com"})
	require.NoError(t, err)

	now := time.Now()
	f.portal.now = func() time.Time { return now }
	require.NoError(t, f.portal.RequestOTP(ctx, f.company.Slug, f.client.Slug, "bob@globex.com"))
	code := f.notifier.last()

	f.portal.now = func() time.Time { return now.Add(11 * time.Minute) }
	_, err = f.portal.VerifyOTP(ctx, f.company.Slug, f.client.Slug, "bob@globex.com", code)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	f.portal.now = func() time.Time { return now }
	require.NoError(t, f.portal.RequestOTP(ctx, f.company.Slug, f.client.Slug, "bob@globex.com"))
	code = f.notifier.last()
	for i := 0; i < 5; i++ {
		_, err = f.portal.VerifyOTP(ctx, f.company.Slug, f.client.Slug, "bob@globex.com", "000000x")
		assert.True(t, errors.Is(err, ErrUnauthorized))
	}
	// 超过尝试次数后正确的验证码也不再接受
	_, err = f.portal.VerifyOTP(ctx, f.company.Slug, f.client.Slug, "bob@globex.com", code)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestIdentityResolver_ResolveSubmitter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	access, err := f.portal.CreateAccess(ctx, f.company.ID, &PortalAccessCreateRequest{ClientID: f.client.ID, Email: "bob@globex.com", Name: "Bob"})
	require.NoError(t, err)
	other, err := f.tenant.CreateClient(ctx, f.company.ID, &ClientCreateRequest{Name: "Initech"})
	require.NoError(t, err)

	contact := Contact{Name: " Alice ", Email: "Alice@Example.com"}

	who, err := f.identity.ResolveSubmitter(ctx, Session{}, f.company.ID, f.client.ID, contact)
	require.NoError(t, err)
	assert.True(t, who.Anonymous())
	assert.Equal(t, "Alice", who.Name)
	assert.Equal(t, "alice@example.com", who.Email)

	who, err = f.identity.ResolveSubmitter(ctx, Session{Staff: &StaffClaims{UserID: f.agent.ID, CompanyID: f.company.ID}}, f.company.ID, f.client.ID, contact)
	require.NoError(t, err)
	require.NotNil(t, who.StaffUserID)
	assert.Equal(t, "Agent Smith", who.Name)

	portal := Session{Portal: &PortalClaims{PortalAccessID: access.ID, ClientID: f.client.ID, CompanyID: f.company.ID}}
	who, err = f.identity.ResolveSubmitter(ctx, portal, f.company.ID, f.client.ID, contact)
	require.NoError(t, err)
	require.NotNil(t, who.PortalAccessID)
	assert.Equal(t, access.ID, *who.PortalAccessID)

	// 门户会话只对本客户组织的表单有效
	who, err = f.identity.ResolveSubmitter(ctx, portal, f.company.ID, other.ID, contact)
	require.NoError(t, err)
	assert.True(t, who.Anonymous())
}

func TestSessionTokens(t *testing.T) {
	token, err := IssueStaffToken("secret", "supportdesk", time.Hour, StaffClaims{UserID: 7, CompanyID: 3, Roles: []string{"agent"}})
	require.NoError(t, err)

	claims, err := ParseStaffToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, uint(3), claims.CompanyID)
	assert.Equal(t, []string{"agent"}, claims.Roles)

	_, err = ParseStaffToken("other-secret", token)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	// 员工令牌不能当作门户令牌使用
	_, err = ParsePortalToken("secret", token)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	expired, err := IssueStaffToken("secret", "supportdesk", -time.Minute, StaffClaims{UserID: 7, CompanyID: 3})
	require.NoError(t, err)
	_, err = ParseStaffToken("secret", expired)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestPortalService_OTPConsumedConcurrently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.portal.CreateAccess(ctx, f.company.ID, &PortalAccessCreateRequest{ClientID: f.client.ID, Email: "bob@globex.com"})
	require.NoError(t, err)
	require.NoError(t, f.portal.RequestOTP(ctx, f.company.Slug, f.client.Slug, "bob@globex.com"))
	code := f.notifier.last()

	// 读取验证码之后、兑换之前，另一请求已经用掉了同一个验证码
	now := time.Now()
	raced := false
	f.portal.now = func() time.Time {
		if !raced {
			raced = true
			require.NoError(t, f.db.Model(&models.PortalOTP{}).Where("consumed_at IS NULL").Update("consumed_at", now).Error)
		}
		return now
	}

	login, err := f.portal.VerifyOTP(ctx, f.company.Slug, f.client.Slug, "bob@globex.com", code)
	assert.Nil(t, login)
	assert.True(t, errors.Is(err, ErrUnauthorized), "err=%v", err)
	assert.True(t, raced)
}
