package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"supportdesk/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gorm.io/gorm"
)

// goldmark 实例只初始化一次；未开启 html.WithUnsafe，正文中的原始 HTML 会被省略
var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

func markdownRenderer() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

// KnowledgeService 知识库文章管理
type KnowledgeService struct {
	db     *gorm.DB
	logger *logrus.Logger
	tenant *TenantService
}

// NewKnowledgeService 创建知识库服务
func NewKnowledgeService(db *gorm.DB, logger *logrus.Logger, tenant *TenantService) *KnowledgeService {
	if logger == nil {
		logger = logrus.New()
	}
	return &KnowledgeService{db: db, logger: logger, tenant: tenant}
}

// ArticleCreateRequest 创建文章请求
type ArticleCreateRequest struct {
	Title     string   `json:"title" binding:"required"`
	Slug      string   `json:"slug"`
	Body      string   `json:"body"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	ClientID  *uint    `json:"client_id"`
	Published bool     `json:"published"`
}

// ArticleUpdateRequest 更新文章请求
type ArticleUpdateRequest struct {
	Title    *string   `json:"title"`
	Body     *string   `json:"body"`
	Category *string   `json:"category"`
	Tags     *[]string `json:"tags"`
	ClientID *uint     `json:"client_id"`
}

// ArticleListRequest 文章列表请求
type ArticleListRequest struct {
	Page      int    `form:"page,default=1"`
	PageSize  int    `form:"page_size,default=20"`
	Category  string `form:"category"`
	Search    string `form:"search"`
	Published *bool  `form:"published"`
	ClientID  *uint  `form:"client_id"`
}

// ArticleView 带渲染后 HTML 的文章
type ArticleView struct {
	models.KnowledgeArticle
	HTML string `json:"html"`
}

// CreateArticle 创建文章
func (s *KnowledgeService) CreateArticle(ctx context.Context, companyID uint, req *ArticleCreateRequest) (*models.KnowledgeArticle, error) {
	if req.ClientID != nil {
		if _, err := s.tenant.GetClient(ctx, companyID, *req.ClientID); err != nil {
			return nil, err
		}
	}
	slug := Slugify(req.Slug)
	if slug == "" {
		slug = Slugify(req.Title)
	}
	if slug == "" {
		return nil, &FieldError{Field: "slug", Reason: "is required"}
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.KnowledgeArticle{}).
		Where("company_id = ? AND slug = ?", companyID, slug).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check article slug: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("article slug %q already taken: %w", slug, ErrConflict)
	}

	article := &models.KnowledgeArticle{
		CompanyID: companyID,
		ClientID:  req.ClientID,
		Title:     strings.TrimSpace(req.Title),
		Slug:      slug,
		Body:      req.Body,
		Category:  strings.TrimSpace(req.Category),
		Tags:      joinTags(req.Tags),
		Published: req.Published,
	}
	if req.Published {
		now := time.Now()
		article.PublishedAt = &now
	}
	if err := s.db.WithContext(ctx).Create(article).Error; err != nil {
		return nil, fmt.Errorf("failed to create article: %w", err)
	}
	s.logger.Infof("Created article %d (%s)", article.ID, article.Slug)
	return article, nil
}

// GetArticle 获取文章
func (s *KnowledgeService) GetArticle(ctx context.Context, companyID, id uint) (*models.KnowledgeArticle, error) {
	var article models.KnowledgeArticle
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).First(&article, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("article")
		}
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return &article, nil
}

// ListArticles 员工端文章列表
func (s *KnowledgeService) ListArticles(ctx context.Context, companyID uint, req *ArticleListRequest) ([]models.KnowledgeArticle, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.KnowledgeArticle{}).Where("company_id = ?", companyID)
	if req.Published != nil {
		q = q.Where("published = ?", *req.Published)
	}
	if req.ClientID != nil {
		q = q.Where("client_id = ?", *req.ClientID)
	}
	return s.page(applyArticleFilters(q, req), req)
}

// UpdateArticle 更新文章
func (s *KnowledgeService) UpdateArticle(ctx context.Context, companyID, id uint, req *ArticleUpdateRequest) (*models.KnowledgeArticle, error) {
	article, err := s.GetArticle(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return nil, &FieldError{Field: "title", Reason: "is required"}
		}
		updates["title"] = strings.TrimSpace(*req.Title)
	}
	if req.Body != nil {
		updates["body"] = *req.Body
	}
	if req.Category != nil {
		updates["category"] = strings.TrimSpace(*req.Category)
	}
	if req.Tags != nil {
		updates["tags"] = joinTags(*req.Tags)
	}
	if req.ClientID != nil {
		if *req.ClientID == 0 {
			updates["client_id"] = nil
		} else {
			if _, err := s.tenant.GetClient(ctx, companyID, *req.ClientID); err != nil {
				return nil, err
			}
			updates["client_id"] = *req.ClientID
		}
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(article).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update article: %w", err)
		}
	}
	return s.GetArticle(ctx, companyID, id)
}

// SetPublished 发布/取消发布
func (s *KnowledgeService) SetPublished(ctx context.Context, companyID, id uint, published bool) (*models.KnowledgeArticle, error) {
	article, err := s.GetArticle(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{"published": published}
	if published && article.PublishedAt == nil {
		updates["published_at"] = time.Now()
	}
	if err := s.db.WithContext(ctx).Model(article).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to publish article: %w", err)
	}
	s.logger.Infof("Article %d published=%t", id, published)
	return s.GetArticle(ctx, companyID, id)
}

// DeleteArticle 删除文章
func (s *KnowledgeService) DeleteArticle(ctx context.Context, companyID, id uint) error {
	res := s.db.WithContext(ctx).Where("company_id = ?", companyID).Delete(&models.KnowledgeArticle{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete article: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("article")
	}
	return nil
}

// ListForClient 门户端：已发布、且面向全部客户或该客户的文章
func (s *KnowledgeService) ListForClient(ctx context.Context, companyID, clientID uint, req *ArticleListRequest) ([]models.KnowledgeArticle, int64, error) {
	q := s.visibleTo(ctx, companyID, clientID)
	return s.page(applyArticleFilters(q, req), req)
}

// GetForClient 门户端按 slug 读取文章并渲染
func (s *KnowledgeService) GetForClient(ctx context.Context, companyID, clientID uint, slug string) (*ArticleView, error) {
	var article models.KnowledgeArticle
	if err := s.visibleTo(ctx, companyID, clientID).Where("slug = ?", slug).First(&article).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("article")
		}
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	html, err := RenderMarkdown(article.Body)
	if err != nil {
		return nil, err
	}
	return &ArticleView{KnowledgeArticle: article, HTML: html}, nil
}

// RenderMarkdown 将 Markdown 渲染为 HTML（GFM）
func RenderMarkdown(body string) (string, error) {
	var buf bytes.Buffer
	if err := markdownRenderer().Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}

func (s *KnowledgeService) visibleTo(ctx context.Context, companyID, clientID uint) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.KnowledgeArticle{}).
		Where("company_id = ? AND published = ?", companyID, true).
		Where("client_id IS NULL OR client_id = ?", clientID)
}

func (s *KnowledgeService) page(q *gorm.DB, req *ArticleListRequest) ([]models.KnowledgeArticle, int64, error) {
	page, size := normalizePage(req.Page, req.PageSize)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count articles: %w", err)
	}
	var list []models.KnowledgeArticle
	if err := q.Order("updated_at DESC, id DESC").Offset((page - 1) * size).Limit(size).Find(&list).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list articles: %w", err)
	}
	return list, total, nil
}

func applyArticleFilters(q *gorm.DB, req *ArticleListRequest) *gorm.DB {
	if req.Category != "" {
		q = q.Where("category = ?", req.Category)
	}
	if term := strings.ToLower(strings.TrimSpace(req.Search)); term != "" {
		like := "%" + term + "%"
		q = q.Where("LOWER(title) LIKE ? OR LOWER(body) LIKE ? OR LOWER(tags) LIKE ?", like, like, like)
	}
	return q
}

func joinTags(tags []string) string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return strings.Join(out, ",")
}
