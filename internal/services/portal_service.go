package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"supportdesk/internal/config"
	"supportdesk/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Notifier 负责把一次性验证码送达客户（邮件发送不在本服务内实现）
type Notifier interface {
	SendOTP(ctx context.Context, access *models.PortalAccess, code string, expiresAt time.Time) error
}

// LogNotifier 仅记录日志的 Notifier，用于开发环境
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n LogNotifier) SendOTP(ctx context.Context, access *models.PortalAccess, code string, expiresAt time.Time) error {
	logger := n.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"portal_access_id": access.ID,
		"expires_at":       expiresAt.Format(time.RFC3339),
	}).Infof("Portal login code for %s: %s", access.Email, code)
	return nil
}

// PortalService 门户访问身份与登录（访问令牌 / 邮箱验证码）
type PortalService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	tenant   *TenantService
	cfg      config.PortalConfig
	notifier Notifier
	now      func() time.Time
}

// NewPortalService 创建门户服务
func NewPortalService(db *gorm.DB, logger *logrus.Logger, tenant *TenantService, cfg config.PortalConfig, notifier Notifier) *PortalService {
	if logger == nil {
		logger = logrus.New()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	if cfg.OTPLength < 4 {
		cfg.OTPLength = 6
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 10 * time.Minute
	}
	if cfg.OTPMaxAttempts <= 0 {
		cfg.OTPMaxAttempts = 5
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	return &PortalService{db: db, logger: logger, tenant: tenant, cfg: cfg, notifier: notifier, now: time.Now}
}

// PortalAccessCreateRequest 创建门户访问请求
type PortalAccessCreateRequest struct {
	ClientID uint   `json:"client_id" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name"`
}

// PortalLogin 登录成功后返回的门户会话
type PortalLogin struct {
	Token     string               `json:"token"`
	ExpiresAt time.Time            `json:"expires_at"`
	Access    *models.PortalAccess `json:"access"`
}

// CreateAccess 为客户联系人创建门户访问身份
func (s *PortalService) CreateAccess(ctx context.Context, companyID uint, req *PortalAccessCreateRequest) (*models.PortalAccess, error) {
	if _, err := s.tenant.GetClient(ctx, companyID, req.ClientID); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, &FieldError{Field: "email", Reason: "is required"}
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.PortalAccess{}).
		Where("client_id = ? AND email = ?", req.ClientID, email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check portal access: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("portal access for %s already exists: %w", email, ErrConflict)
	}

	access := &models.PortalAccess{
		CompanyID:   companyID,
		ClientID:    req.ClientID,
		Email:       email,
		Name:        strings.TrimSpace(req.Name),
		AccessToken: uuid.NewString(),
		Active:      true,
	}
	if err := s.db.WithContext(ctx).Create(access).Error; err != nil {
		return nil, fmt.Errorf("failed to create portal access: %w", err)
	}
	s.logger.Infof("Created portal access %d for client %d", access.ID, access.ClientID)
	return access, nil
}

// ListAccesses 列出门户访问身份
func (s *PortalService) ListAccesses(ctx context.Context, companyID uint, clientID *uint) ([]models.PortalAccess, error) {
	q := s.db.WithContext(ctx).Where("company_id = ?", companyID)
	if clientID != nil {
		q = q.Where("client_id = ?", *clientID)
	}
	var list []models.PortalAccess
	if err := q.Order("email ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list portal accesses: %w", err)
	}
	return list, nil
}

// GetAccess 获取门户访问身份
func (s *PortalService) GetAccess(ctx context.Context, companyID, id uint) (*models.PortalAccess, error) {
	var access models.PortalAccess
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).First(&access, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("portal access")
		}
		return nil, fmt.Errorf("failed to get portal access: %w", err)
	}
	return &access, nil
}

// SetActive 启用/停用门户访问
func (s *PortalService) SetActive(ctx context.Context, companyID, id uint, active bool) (*models.PortalAccess, error) {
	access, err := s.GetAccess(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(access).Update("active", active).Error; err != nil {
		return nil, fmt.Errorf("failed to update portal access: %w", err)
	}
	access.Active = active
	return access, nil
}

// RotateToken 重新生成访问令牌，旧链接立即失效
func (s *PortalService) RotateToken(ctx context.Context, companyID, id uint) (*models.PortalAccess, error) {
	access, err := s.GetAccess(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	token := uuid.NewString()
	if err := s.db.WithContext(ctx).Model(access).Update("access_token", token).Error; err != nil {
		return nil, fmt.Errorf("failed to rotate token: %w", err)
	}
	access.AccessToken = token
	return access, nil
}

// ExchangeToken 用访问令牌换取门户会话
func (s *PortalService) ExchangeToken(ctx context.Context, accessToken string) (*PortalLogin, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, fmt.Errorf("%w: access token required", ErrUnauthorized)
	}
	var access models.PortalAccess
	err := s.db.WithContext(ctx).Where("access_token = ? AND active = ?", accessToken, true).First(&access).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: invalid access token", ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to load portal access: %w", err)
	}
	return s.login(ctx, &access)
}

// RequestOTP 生成并发送验证码；邮箱未知时同样返回成功，不暴露是否存在
func (s *PortalService) RequestOTP(ctx context.Context, companySlug, clientSlug, email string) error {
	access, err := s.findAccess(ctx, companySlug, clientSlug, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Infof("OTP requested for unknown portal identity on %s/%s", companySlug, clientSlug)
			return nil
		}
		return err
	}

	code, err := randomDigits(s.cfg.OTPLength)
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash code: %w", err)
	}

	now := s.now()
	otp := &models.PortalOTP{
		PortalAccessID: access.ID,
		CodeHash:       string(hash),
		ExpiresAt:      now.Add(s.cfg.OTPTTL),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 新验证码使之前未使用的全部失效
		if err := tx.Model(&models.PortalOTP{}).
			Where("portal_access_id = ? AND consumed_at IS NULL", access.ID).
			Update("consumed_at", now).Error; err != nil {
			return err
		}
		return tx.Create(otp).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store code: %w", err)
	}

	if err := s.notifier.SendOTP(ctx, access, code, otp.ExpiresAt); err != nil {
		return fmt.Errorf("failed to deliver code: %w", err)
	}
	return nil
}

// VerifyOTP 校验验证码并签发门户会话
func (s *PortalService) VerifyOTP(ctx context.Context, companySlug, clientSlug, email, code string) (*PortalLogin, error) {
	access, err := s.findAccess(ctx, companySlug, clientSlug, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid code", ErrUnauthorized)
		}
		return nil, err
	}

	var otp models.PortalOTP
	err = s.db.WithContext(ctx).
		Where("portal_access_id = ? AND consumed_at IS NULL", access.ID).
		Order("id DESC").First(&otp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: invalid code", ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to load code: %w", err)
	}

	now := s.now()
	if now.After(otp.ExpiresAt) {
		return nil, fmt.Errorf("%w: code expired", ErrUnauthorized)
	}
	if otp.Attempts >= s.cfg.OTPMaxAttempts {
		return nil, fmt.Errorf("%w: too many attempts", ErrUnauthorized)
	}
	if bcrypt.CompareHashAndPassword([]byte(otp.CodeHash), []byte(strings.TrimSpace(code))) != nil {
		if err := s.db.WithContext(ctx).Model(&otp).Update("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
			s.logger.Warnf("Failed to count OTP attempt for portal access %d: %v", access.ID, err)
		}
		return nil, fmt.Errorf("%w: invalid code", ErrUnauthorized)
	}

	// 条件更新保证验证码只能兑换一次
	res := s.db.WithContext(ctx).Model(&models.PortalOTP{}).
		Where("id = ? AND consumed_at IS NULL", otp.ID).
		Update("consumed_at", now)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to consume code: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: code already used", ErrUnauthorized)
	}
	return s.login(ctx, access)
}

// ParseSession 校验门户会话令牌
func (s *PortalService) ParseSession(token string) (*PortalClaims, error) {
	return ParsePortalToken(s.cfg.SessionSecret, token)
}

// Authenticate 校验会话令牌，并确认门户身份仍然启用
func (s *PortalService) Authenticate(ctx context.Context, token string) (*PortalClaims, error) {
	claims, err := s.ParseSession(token)
	if err != nil {
		return nil, err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.PortalAccess{}).
		Where("id = ? AND client_id = ? AND active = ?", claims.PortalAccessID, claims.ClientID, true).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check portal access: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: portal access revoked", ErrUnauthorized)
	}
	return claims, nil
}

func (s *PortalService) findAccess(ctx context.Context, companySlug, clientSlug, email string) (*models.PortalAccess, error) {
	_, client, err := s.tenant.ResolveClient(ctx, companySlug, clientSlug)
	if err != nil {
		return nil, err
	}
	var access models.PortalAccess
	err = s.db.WithContext(ctx).
		Where("client_id = ? AND email = ? AND active = ?", client.ID, strings.ToLower(strings.TrimSpace(email)), true).
		First(&access).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("portal access")
		}
		return nil, fmt.Errorf("failed to load portal access: %w", err)
	}
	return &access, nil
}

func (s *PortalService) login(ctx context.Context, access *models.PortalAccess) (*PortalLogin, error) {
	now := s.now()
	token, err := issuePortalToken(s.cfg.SessionSecret, s.cfg.SessionTTL, PortalClaims{
		PortalAccessID: access.ID,
		ClientID:       access.ClientID,
		CompanyID:      access.CompanyID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(access).Update("last_login_at", now).Error; err != nil {
		s.logger.Warnf("Failed to stamp login for portal access %d: %v", access.ID, err)
	}
	s.logger.Infof("Portal access %d signed in", access.ID)
	return &PortalLogin{Token: token, ExpiresAt: now.Add(s.cfg.SessionTTL), Access: access}, nil
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
