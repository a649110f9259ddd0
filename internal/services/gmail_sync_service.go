package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"supportdesk/internal/config"
	"supportdesk/internal/metrics"
	"supportdesk/internal/models"
	"supportdesk/internal/storage"
	"supportdesk/pkg/gmail"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// ProviderFactory 为一个 Gmail 接入创建邮箱读取器
type ProviderFactory func(ctx context.Context, integration *models.GmailIntegration) (gmail.Provider, error)

// APIProviderFactory 使用 Gmail REST API 与接入保存的 token
func APIProviderFactory(cfg config.GmailConfig) ProviderFactory {
	return func(ctx context.Context, integration *models.GmailIntegration) (gmail.Provider, error) {
		creds := gmail.Credentials{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			AccessToken:  integration.AccessToken,
			RefreshToken: integration.RefreshToken,
		}
		if integration.TokenExpiry != nil {
			creds.Expiry = *integration.TokenExpiry
		}
		return gmail.NewAPIProvider(ctx, creds, cfg.Timeout)
	}
}

// GmailSyncService 将 Gmail 邮件会话导入为工单和评论
type GmailSyncService struct {
	db          *gorm.DB
	logger      *logrus.Logger
	tenant      *TenantService
	tickets     *TicketService
	blobs       storage.BlobStore
	cfg         config.GmailConfig
	newProvider ProviderFactory
	tracer      trace.Tracer
}

// NewGmailSyncService 创建 Gmail 同步服务；blobs 为空时不保存附件
func NewGmailSyncService(db *gorm.DB, logger *logrus.Logger, tenant *TenantService, tickets *TicketService, blobs storage.BlobStore, cfg config.GmailConfig, factory ProviderFactory) *GmailSyncService {
	if logger == nil {
		logger = logrus.New()
	}
	if factory == nil {
		factory = APIProviderFactory(cfg)
	}
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = 50
	}
	if cfg.DefaultPriority == "" {
		cfg.DefaultPriority = models.PriorityMedium
	}
	return &GmailSyncService{
		db:          db,
		logger:      logger,
		tenant:      tenant,
		tickets:     tickets,
		blobs:       blobs,
		cfg:         cfg,
		newProvider: factory,
		tracer:      otel.Tracer("supportdesk.gmail"),
	}
}

// GmailIntegrationRequest 创建 Gmail 接入请求；token 来自外部授权流程
type GmailIntegrationRequest struct {
	EmailAddress    string     `json:"email_address" binding:"required,email"`
	AccessToken     string     `json:"access_token"`
	RefreshToken    string     `json:"refresh_token" binding:"required"`
	TokenExpiry     *time.Time `json:"token_expiry"`
	DefaultClientID *uint      `json:"default_client_id"`
}

// SyncResult 一次同步的统计
type SyncResult struct {
	Threads  int `json:"threads"`
	Tickets  int `json:"tickets"`
	Messages int `json:"messages"`
	Skipped  int `json:"skipped"`
}

func (r *SyncResult) add(o *SyncResult) {
	r.Threads += o.Threads
	r.Tickets += o.Tickets
	r.Messages += o.Messages
	r.Skipped += o.Skipped
}

// CreateIntegration 保存 Gmail 接入
func (s *GmailSyncService) CreateIntegration(ctx context.Context, companyID uint, req *GmailIntegrationRequest) (*models.GmailIntegration, error) {
	if req.DefaultClientID != nil {
		if _, err := s.tenant.GetClient(ctx, companyID, *req.DefaultClientID); err != nil {
			return nil, err
		}
	}
	email := strings.ToLower(strings.TrimSpace(req.EmailAddress))
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.GmailIntegration{}).Where("email_address = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check integration: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("integration for %s already exists: %w", email, ErrConflict)
	}

	integration := &models.GmailIntegration{
		CompanyID:       companyID,
		EmailAddress:    email,
		AccessToken:     req.AccessToken,
		RefreshToken:    req.RefreshToken,
		TokenExpiry:     req.TokenExpiry,
		DefaultClientID: req.DefaultClientID,
		Active:          true,
	}
	if err := s.db.WithContext(ctx).Create(integration).Error; err != nil {
		return nil, fmt.Errorf("failed to create integration: %w", err)
	}
	s.logger.Infof("Created Gmail integration %d for company %d", integration.ID, companyID)
	return integration, nil
}

// ListIntegrations 列出公司的 Gmail 接入
func (s *GmailSyncService) ListIntegrations(ctx context.Context, companyID uint) ([]models.GmailIntegration, error) {
	var list []models.GmailIntegration
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	return list, nil
}

// GetIntegration 获取 Gmail 接入
func (s *GmailSyncService) GetIntegration(ctx context.Context, companyID, id uint) (*models.GmailIntegration, error) {
	var integration models.GmailIntegration
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).First(&integration, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("gmail integration")
		}
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return &integration, nil
}

// DeleteIntegration 删除 Gmail 接入，已导入的工单保留
func (s *GmailSyncService) DeleteIntegration(ctx context.Context, companyID, id uint) error {
	res := s.db.WithContext(ctx).Where("company_id = ?", companyID).Delete(&models.GmailIntegration{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete integration: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("gmail integration")
	}
	return nil
}

// SyncAll 同步全部启用的接入；单个接入失败不影响其他接入
func (s *GmailSyncService) SyncAll(ctx context.Context) (*SyncResult, error) {
	var list []models.GmailIntegration
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}

	total := &SyncResult{}
	var errs []error
	for i := range list {
		res, err := s.SyncIntegration(ctx, &list[i])
		if err != nil {
			errs = append(errs, fmt.Errorf("integration %d: %w", list[i].ID, err))
			continue
		}
		total.add(res)
	}
	return total, errors.Join(errs...)
}

// HandlePush 处理 Pub/Sub 推送：按邮箱地址找到接入并同步
func (s *GmailSyncService) HandlePush(ctx context.Context, n *gmail.PushNotification) (*SyncResult, error) {
	var integration models.GmailIntegration
	err := s.db.WithContext(ctx).
		Where("email_address = ? AND active = ?", n.EmailAddress, true).
		First(&integration).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("gmail integration")
		}
		return nil, fmt.Errorf("failed to load integration: %w", err)
	}
	if n.HistoryID > integration.HistoryID {
		if err := s.db.WithContext(ctx).Model(&integration).Update("history_id", n.HistoryID).Error; err != nil {
			return nil, fmt.Errorf("failed to store history id: %w", err)
		}
		integration.HistoryID = n.HistoryID
	}
	return s.SyncIntegration(ctx, &integration)
}

// RunPoller 按固定间隔执行 SyncAll，直到 ctx 结束
func (s *GmailSyncService) RunPoller(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Infof("Gmail poller started, interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Gmail poller stopped")
			return nil
		case <-ticker.C:
			res, err := s.SyncAll(ctx)
			if err != nil {
				s.logger.Warnf("Gmail sync finished with errors: %v", err)
			}
			if res != nil && (res.Tickets > 0 || res.Messages > 0) {
				s.logger.Infof("Gmail sync imported %d tickets, %d messages", res.Tickets, res.Messages)
			}
		}
	}
}

// SyncIntegration 导入一个接入下匹配查询条件的会话，按 thread id / message id 去重
func (s *GmailSyncService) SyncIntegration(ctx context.Context, integration *models.GmailIntegration) (*SyncResult, error) {
	ctx, span := s.tracer.Start(ctx, "gmail.sync_integration")
	defer span.End()
	span.SetAttributes(attribute.Int64("gmail.integration.id", int64(integration.ID)))

	provider, err := s.newProvider(ctx, integration)
	if err != nil {
		metrics.IncGmailSyncError()
		span.RecordError(err)
		return nil, err
	}
	ids, err := provider.ListThreadIDs(ctx, s.cfg.Query, s.cfg.MaxThreads)
	if err != nil {
		metrics.IncGmailSyncError()
		span.RecordError(err)
		return nil, err
	}

	result := &SyncResult{}
	for _, id := range ids {
		res, err := s.syncThread(ctx, provider, integration, id)
		if err != nil {
			metrics.IncGmailSyncError()
			span.RecordError(err)
			s.logger.Errorf("Failed to sync thread %s for integration %d: %v", id, integration.ID, err)
			continue
		}
		result.add(res)
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(integration).Update("last_synced_at", now).Error; err != nil {
		s.logger.Warnf("Failed to stamp sync time for integration %d: %v", integration.ID, err)
	}
	integration.LastSyncedAt = &now
	if ts, ok := provider.(tokenSource); ok {
		s.persistToken(ctx, integration, ts)
	}

	span.SetAttributes(
		attribute.Int("gmail.threads", result.Threads),
		attribute.Int("gmail.tickets", result.Tickets),
		attribute.Int("gmail.messages", result.Messages),
	)
	return result, nil
}

func (s *GmailSyncService) syncThread(ctx context.Context, provider gmail.Provider, integration *models.GmailIntegration, threadID string) (*SyncResult, error) {
	thread, err := provider.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	result := &SyncResult{Threads: 1}
	own := strings.ToLower(integration.EmailAddress)

	var record models.GmailThread
	err = s.db.WithContext(ctx).
		Where("integration_id = ? AND thread_id = ?", integration.ID, thread.ID).
		First(&record).Error
	exists := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load thread record: %w", err)
	}

	seen := map[string]bool{}
	var (
		ticket    *models.Ticket
		opener    gmail.Message
		clientID  uint
		remaining []gmail.Message
	)

	if exists {
		var t models.Ticket
		if err := s.db.WithContext(ctx).First(&t, record.TicketID).Error; err != nil {
			return nil, fmt.Errorf("failed to load ticket %d: %w", record.TicketID, err)
		}
		ticket = &t
		clientID = t.ClientID
		seen[record.FirstMessageID] = true
		var ext []string
		if err := s.db.WithContext(ctx).Model(&models.TicketComment{}).
			Where("ticket_id = ? AND external_id <> ''", t.ID).
			Pluck("external_id", &ext).Error; err != nil {
			return nil, fmt.Errorf("failed to load imported messages: %w", err)
		}
		for _, id := range ext {
			seen[id] = true
		}
		remaining = thread.Messages
	} else {
		first := -1
		for i, m := range thread.Messages {
			if m.FromEmail != "" && m.FromEmail != own {
				first = i
				break
			}
		}
		if first < 0 {
			result.Skipped++
			return result, nil
		}
		opener = thread.Messages[first]
		client, err := s.tenant.MatchClientByEmail(ctx, integration.CompanyID, opener.FromEmail)
		if err != nil {
			return nil, err
		}
		switch {
		case client != nil:
			clientID = client.ID
		case integration.DefaultClientID != nil:
			clientID = *integration.DefaultClientID
		default:
			s.logger.Infof("No client for sender domain of thread %s, skipped", thread.ID)
			result.Skipped++
			return result, nil
		}
		seen[opener.ID] = true
		remaining = thread.Messages[first+1:]
	}

	// 事务开始前查好门户身份
	portals := map[string]*uint{}
	for _, m := range append([]gmail.Message{opener}, remaining...) {
		if _, ok := portals[m.FromEmail]; !ok && m.FromEmail != "" {
			portals[m.FromEmail] = s.portalAccessFor(ctx, clientID, m.FromEmail)
		}
	}

	var (
		comments []*models.TicketComment
		uploaded []string
	)
	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tickets := s.tickets.WithTx(tx)
		if !exists {
			subject := opener.Subject
			if subject == "" {
				subject = "(no subject)"
			}
			t, err := tickets.CreateTicket(ctx, &TicketCreateRequest{
				CompanyID:      integration.CompanyID,
				ClientID:       clientID,
				Subject:        subject,
				Description:    gmail.StripQuoted(opener.Body),
				Priority:       s.cfg.DefaultPriority,
				Source:         models.SourceEmail,
				RequesterName:  opener.FromName,
				RequesterEmail: opener.FromEmail,
				PortalAccessID: portals[opener.FromEmail],
				ExternalID:     thread.ID,
				ExternalType:   models.ExternalTypeGmailThread,
			})
			if err != nil {
				return err
			}
			if err := s.saveAttachments(ctx, tx, provider, t.ID, nil, opener, &uploaded); err != nil {
				return err
			}
			record = models.GmailThread{
				IntegrationID:  integration.ID,
				ThreadID:       thread.ID,
				TicketID:       t.ID,
				FirstMessageID: opener.ID,
				LastMessageID:  opener.ID,
			}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("failed to record thread: %w", err)
			}
			ticket = t
			created = true
		}

		last := record.LastMessageID
		for _, m := range remaining {
			last = m.ID
			if seen[m.ID] || m.FromEmail == own {
				continue
			}
			author := CommentAuthor{
				PortalAccessID: portals[m.FromEmail],
				Name:           m.FromName,
				Email:          m.FromEmail,
				Source:         models.SourceEmail,
				ExternalID:     m.ID,
			}
			body := gmail.StripQuoted(m.Body)
			if body == "" {
				body = "(empty message)"
			}
			c, err := tickets.AddComment(ctx, ticket.CompanyID, ticket.ID, &CommentCreateRequest{Body: body}, author)
			if err != nil {
				return err
			}
			if err := s.saveAttachments(ctx, tx, provider, ticket.ID, &c.ID, m, &uploaded); err != nil {
				return err
			}
			seen[m.ID] = true
			comments = append(comments, c)
		}
		if last != record.LastMessageID {
			if err := tx.Model(&record).Update("last_message_id", last).Error; err != nil {
				return fmt.Errorf("failed to update thread record: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.discardBlobs(ctx, uploaded)
		return nil, err
	}

	if created {
		metrics.IncGmailThreadImported()
		s.tickets.Notify(ticket.CompanyID, EventTicketCreated, ticket)
		result.Tickets++
		s.logger.Infof("Imported Gmail thread %s as ticket %d", thread.ID, ticket.ID)
	}
	for _, c := range comments {
		metrics.IncGmailMessageImported()
		s.tickets.Notify(ticket.CompanyID, EventTicketComment, c)
	}
	result.Messages += len(comments)
	return result, nil
}

// portalAccessFor 发件人在该客户下有门户身份时关联到工单/评论
func (s *GmailSyncService) portalAccessFor(ctx context.Context, clientID uint, email string) *uint {
	if email == "" {
		return nil
	}
	var access models.PortalAccess
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND email = ? AND active = ?", clientID, email, true).
		First(&access).Error
	if err != nil {
		return nil
	}
	return &access.ID
}

type tokenSource interface {
	Token() (*oauth2.Token, error)
}

// persistToken 保存刷新后的 access token
func (s *GmailSyncService) persistToken(ctx context.Context, integration *models.GmailIntegration, ts tokenSource) {
	tok, err := ts.Token()
	if err != nil || tok.AccessToken == "" || tok.AccessToken == integration.AccessToken {
		return
	}
	updates := map[string]interface{}{"access_token": tok.AccessToken}
	if !tok.Expiry.IsZero() {
		updates["token_expiry"] = tok.Expiry
	}
	if tok.RefreshToken != "" && tok.RefreshToken != integration.RefreshToken {
		updates["refresh_token"] = tok.RefreshToken
	}
	if err := s.db.WithContext(ctx).Model(integration).Updates(updates).Error; err != nil {
		s.logger.Warnf("Failed to store refreshed token for integration %d: %v", integration.ID, err)
		return
	}
	integration.AccessToken = tok.AccessToken
}

// saveAttachments 上传附件并记录；已上传的 key 追加到 uploaded，事务回滚时由调用方清理
func (s *GmailSyncService) saveAttachments(ctx context.Context, tx *gorm.DB, provider gmail.Provider, ticketID uint, commentID *uint, m gmail.Message, uploaded *[]string) error {
	if s.blobs == nil || len(m.Attachments) == 0 {
		return nil
	}
	for _, a := range m.Attachments {
		data := a.Data
		if len(data) == 0 && a.ID != "" {
			var err error
			data, err = provider.GetAttachment(ctx, m.ID, a.ID)
			if err != nil {
				return err
			}
		}
		key := fmt.Sprintf("tickets/%d/%s-%s", ticketID, uuid.NewString(), path.Base(a.FileName))
		if err := s.blobs.Put(ctx, key, a.MimeType, bytes.NewReader(data), int64(len(data))); err != nil {
			return err
		}
		*uploaded = append(*uploaded, key)
		att := &models.TicketAttachment{
			TicketID:    ticketID,
			CommentID:   commentID,
			FileName:    a.FileName,
			ContentType: a.MimeType,
			Size:        int64(len(data)),
			ObjectKey:   key,
		}
		if err := tx.Create(att).Error; err != nil {
			return fmt.Errorf("failed to record attachment: %w", err)
		}
	}
	return nil
}

// discardBlobs 删除回滚事务中已上传的附件
func (s *GmailSyncService) discardBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warnf("Failed to remove orphaned attachment %s: %v", key, err)
		}
	}
}
