package gmail

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Provider 邮箱读取接口
type Provider interface {
	ListThreadIDs(ctx context.Context, query string, max int64) ([]string, error)
	GetThread(ctx context.Context, id string) (*Thread, error)
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// Credentials 已授权邮箱的 OAuth 凭据
type Credentials struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// APIProvider 基于 Gmail REST API 的 Provider
type APIProvider struct {
	svc    *gmailapi.Service
	tokens oauth2.TokenSource
}

// NewAPIProvider 使用已保存的 token 创建 Provider，过期时自动刷新
func NewAPIProvider(ctx context.Context, creds Credentials, timeout time.Duration) (*APIProvider, error) {
	if creds.RefreshToken == "" && creds.AccessToken == "" {
		return nil, fmt.Errorf("gmail credentials missing token")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailReadonlyScope},
	}
	base := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	tokens := conf.TokenSource(ctx, &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.Expiry,
		TokenType:    "Bearer",
	})

	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, tokens)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return &APIProvider{svc: svc, tokens: tokens}, nil
}

// Token 当前 token（可能已刷新），调用方负责持久化
func (p *APIProvider) Token() (*oauth2.Token, error) {
	return p.tokens.Token()
}

// ListThreadIDs 按查询条件列出会话 id，最多 max 个
func (p *APIProvider) ListThreadIDs(ctx context.Context, query string, max int64) ([]string, error) {
	if max <= 0 {
		max = 50
	}
	var ids []string
	pageToken := ""
	for int64(len(ids)) < max {
		call := p.svc.Users.Threads.List("me").Q(query).MaxResults(max - int64(len(ids))).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list threads: %w", err)
		}
		for _, t := range resp.Threads {
			ids = append(ids, t.Id)
		}
		if resp.NextPageToken == "" || len(resp.Threads) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, nil
}

// GetThread 获取会话全部消息
func (p *APIProvider) GetThread(ctx context.Context, id string) (*Thread, error) {
	resp, err := p.svc.Users.Threads.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get thread %s: %w", id, err)
	}
	thread := &Thread{ID: resp.Id}
	for _, m := range resp.Messages {
		thread.Messages = append(thread.Messages, ParseMessage(m))
	}
	return thread, nil
}

// GetAttachment 下载附件内容
func (p *APIProvider) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	resp, err := p.svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment %s: %w", attachmentID, err)
	}
	data, err := decodeBase64URL(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment %s: %w", attachmentID, err)
	}
	return data, nil
}
