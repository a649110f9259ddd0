package handlers

import (
	"net/http"

	"supportdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// KnowledgeHandler 知识库文章管理（员工端）
type KnowledgeHandler struct {
	knowledgeService *services.KnowledgeService
}

// NewKnowledgeHandler 创建知识库处理器
func NewKnowledgeHandler(knowledgeService *services.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{knowledgeService: knowledgeService}
}

// CreateArticle 创建文章
// @Summary 创建文章
// @Tags 知识库
// @Accept json
// @Param article body services.ArticleCreateRequest true "文章"
// @Success 201 {object} models.KnowledgeArticle
// @Router /api/articles [post]
func (h *KnowledgeHandler) CreateArticle(c *gin.Context) {
	var req services.ArticleCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, _ := staffIDs(c)
	article, err := h.knowledgeService.CreateArticle(c.Request.Context(), companyID, &req)
	if err != nil {
		respondError(c, "CREATE_FAILED", err)
		return
	}
	c.JSON(http.StatusCreated, article)
}

// ListArticles 文章列表
// @Summary 文章列表
// @Tags 知识库
// @Param category query string false "分类"
// @Param search query string false "关键字"
// @Param published query boolean false "是否发布"
// @Success 200 {object} PaginatedResponse
// @Router /api/articles [get]
func (h *KnowledgeHandler) ListArticles(c *gin.Context) {
	var req services.ArticleListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, _ := staffIDs(c)
	articles, total, err := h.knowledgeService.ListArticles(c.Request.Context(), companyID, &req)
	if err != nil {
		respondError(c, "LIST_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, paginated(articles, total, req.Page, req.PageSize))
}

// GetArticle 文章详情
// @Summary 文章详情
// @Tags 知识库
// @Param id path int true "文章ID"
// @Success 200 {object} services.ArticleView
// @Router /api/articles/{id} [get]
func (h *KnowledgeHandler) GetArticle(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID, _ := staffIDs(c)
	article, err := h.knowledgeService.GetArticle(c.Request.Context(), companyID, id)
	if err != nil {
		respondError(c, "GET_FAILED", err)
		return
	}
	html, err := services.RenderMarkdown(article.Body)
	if err != nil {
		respondError(c, "RENDER_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, services.ArticleView{KnowledgeArticle: *article, HTML: html})
}

// UpdateArticle 更新文章
// @Summary 更新文章
// @Tags 知识库
// @Param id path int true "文章ID"
// @Param article body services.ArticleUpdateRequest true "更新内容"
// @Success 200 {object} models.KnowledgeArticle
// @Router /api/articles/{id} [put]
func (h *KnowledgeHandler) UpdateArticle(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.ArticleUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, _ := staffIDs(c)
	article, err := h.knowledgeService.UpdateArticle(c.Request.Context(), companyID, id, &req)
	if err != nil {
		respondError(c, "UPDATE_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, article)
}

// SetPublished 发布或撤回文章
// @Summary 发布/撤回文章
// @Tags 知识库
// @Param id path int true "文章ID"
// @Success 200 {object} models.KnowledgeArticle
// @Router /api/articles/{id}/publish [post]
// @Router /api/articles/{id}/unpublish [post]
func (h *KnowledgeHandler) SetPublished(published bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		companyID, _ := staffIDs(c)
		article, err := h.knowledgeService.SetPublished(c.Request.Context(), companyID, id, published)
		if err != nil {
			respondError(c, "PUBLISH_FAILED", err)
			return
		}
		c.JSON(http.StatusOK, article)
	}
}

// DeleteArticle 删除文章
// @Summary 删除文章
// @Tags 知识库
// @Param id path int true "文章ID"
// @Success 200 {object} SuccessResponse
// @Router /api/articles/{id} [delete]
func (h *KnowledgeHandler) DeleteArticle(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID, _ := staffIDs(c)
	if err := h.knowledgeService.DeleteArticle(c.Request.Context(), companyID, id); err != nil {
		respondError(c, "DELETE_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "文章已删除"})
}
