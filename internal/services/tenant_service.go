package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"supportdesk/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TenantService 公司、客户组织与员工成员关系
type TenantService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewTenantService 创建租户服务
func NewTenantService(db *gorm.DB, logger *logrus.Logger) *TenantService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TenantService{db: db, logger: logger}
}

// CompanyCreateRequest 创建公司请求
type CompanyCreateRequest struct {
	Name string `json:"name" binding:"required"`
	Slug string `json:"slug"`
}

// ClientCreateRequest 创建客户组织请求
type ClientCreateRequest struct {
	Name         string `json:"name" binding:"required"`
	Slug         string `json:"slug"`
	EmailDomains string `json:"email_domains"`
	Active       *bool  `json:"active"`
}

// ClientUpdateRequest 更新客户组织请求
type ClientUpdateRequest struct {
	Name         *string `json:"name"`
	EmailDomains *string `json:"email_domains"`
	Active       *bool   `json:"active"`
}

// Slugify 生成 URL 友好的标识
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// CreateCompany 创建公司
func (s *TenantService) CreateCompany(ctx context.Context, req *CompanyCreateRequest) (*models.Company, error) {
	slug := Slugify(req.Slug)
	if slug == "" {
		slug = Slugify(req.Name)
	}
	if slug == "" {
		return nil, &FieldError{Field: "slug", Reason: "is required"}
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Company{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check company slug: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("company slug %q already taken: %w", slug, ErrConflict)
	}

	company := &models.Company{Name: strings.TrimSpace(req.Name), Slug: slug}
	if err := s.db.WithContext(ctx).Create(company).Error; err != nil {
		return nil, fmt.Errorf("failed to create company: %w", err)
	}
	s.logger.Infof("Created company %d (%s)", company.ID, company.Slug)
	return company, nil
}

// GetCompanyBySlug 按 slug 查找公司
func (s *TenantService) GetCompanyBySlug(ctx context.Context, slug string) (*models.Company, error) {
	var company models.Company
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&company).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("company")
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &company, nil
}

// ResolveClient 按公司 slug 与客户 slug 定位客户组织
func (s *TenantService) ResolveClient(ctx context.Context, companySlug, clientSlug string) (*models.Company, *models.Client, error) {
	company, err := s.GetCompanyBySlug(ctx, companySlug)
	if err != nil {
		return nil, nil, err
	}
	var client models.Client
	err = s.db.WithContext(ctx).
		Where("company_id = ? AND slug = ? AND active = ?", company.ID, clientSlug, true).
		First(&client).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, notFound("client")
		}
		return nil, nil, fmt.Errorf("failed to get client: %w", err)
	}
	return company, &client, nil
}

// CreateClient 在公司下创建客户组织
func (s *TenantService) CreateClient(ctx context.Context, companyID uint, req *ClientCreateRequest) (*models.Client, error) {
	slug := Slugify(req.Slug)
	if slug == "" {
		slug = Slugify(req.Name)
	}
	if slug == "" {
		return nil, &FieldError{Field: "slug", Reason: "is required"}
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Client{}).
		Where("company_id = ? AND slug = ?", companyID, slug).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check client slug: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("client slug %q already taken: %w", slug, ErrConflict)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	client := &models.Client{
		CompanyID:    companyID,
		Name:         strings.TrimSpace(req.Name),
		Slug:         slug,
		EmailDomains: normalizeDomains(req.EmailDomains),
		Active:       active,
	}
	if err := s.db.WithContext(ctx).Create(client).Error; err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	s.logger.Infof("Created client %d (%s) for company %d", client.ID, client.Slug, companyID)
	return client, nil
}

// GetClient 获取客户组织
func (s *TenantService) GetClient(ctx context.Context, companyID, clientID uint) (*models.Client, error) {
	var client models.Client
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).First(&client, clientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("client")
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &client, nil
}

// ListClients 列出公司下的客户组织
func (s *TenantService) ListClients(ctx context.Context, companyID uint) ([]models.Client, error) {
	var clients []models.Client
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("name ASC").Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return clients, nil
}

// UpdateClient 更新客户组织
func (s *TenantService) UpdateClient(ctx context.Context, companyID, clientID uint, req *ClientUpdateRequest) (*models.Client, error) {
	client, err := s.GetClient(ctx, companyID, clientID)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.EmailDomains != nil {
		updates["email_domains"] = normalizeDomains(*req.EmailDomains)
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(client).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update client: %w", err)
		}
	}
	return s.GetClient(ctx, companyID, clientID)
}

// MatchClientByEmail 根据发件人邮箱域名匹配客户组织，未匹配时返回 (nil, nil)
func (s *TenantService) MatchClientByEmail(ctx context.Context, companyID uint, email string) (*models.Client, error) {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return nil, nil
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	if domain == "" {
		return nil, nil
	}

	clients, err := s.ListClients(ctx, companyID)
	if err != nil {
		return nil, err
	}
	for i := range clients {
		if !clients[i].Active {
			continue
		}
		for _, d := range clients[i].Domains() {
			if d == domain {
				return &clients[i], nil
			}
		}
	}
	return nil, nil
}

// EnsureUser 按邮箱查找或创建员工用户
func (s *TenantService) EnsureUser(ctx context.Context, email, name string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, &FieldError{Field: "email", Reason: "is required"}
	}
	user := models.User{Email: email, Name: name}
	if err := s.db.WithContext(ctx).Where("email = ?", email).FirstOrCreate(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	return &user, nil
}

// AddMember 把员工加入公司；已是成员时更新角色
func (s *TenantService) AddMember(ctx context.Context, companyID, userID uint, role string) (*models.Membership, error) {
	switch role {
	case models.RoleOwner, models.RoleAdmin, models.RoleAgent:
	case "":
		role = models.RoleAgent
	default:
		return nil, &FieldError{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
	}

	var m models.Membership
	err := s.db.WithContext(ctx).Where("company_id = ? AND user_id = ?", companyID, userID).First(&m).Error
	switch {
	case err == nil:
		if m.Role != role {
			if err := s.db.WithContext(ctx).Model(&m).Update("role", role).Error; err != nil {
				return nil, fmt.Errorf("failed to update membership: %w", err)
			}
			m.Role = role
		}
		return &m, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		m = models.Membership{CompanyID: companyID, UserID: userID, Role: role}
		if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
			return nil, fmt.Errorf("failed to create membership: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}
}

// GetMembership 查询员工在公司中的成员关系
func (s *TenantService) GetMembership(ctx context.Context, companyID, userID uint) (*models.Membership, error) {
	var m models.Membership
	err := s.db.WithContext(ctx).Preload("User").
		Where("company_id = ? AND user_id = ?", companyID, userID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("membership")
		}
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}
	return &m, nil
}

// CompaniesForUser 员工所属的公司 id 列表
func (s *TenantService) CompaniesForUser(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.Membership{}).
		Where("user_id = ?", userID).Pluck("company_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return ids, nil
}

func normalizeDomains(raw string) string {
	c := models.Client{EmailDomains: raw}
	return strings.Join(c.Domains(), ",")
}
