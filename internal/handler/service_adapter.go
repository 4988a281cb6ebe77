package handler

import (
	"context"
	"fmt"

	"github.com/hitoshi/indexman/internal/indexer"
	"github.com/hitoshi/indexman/internal/model"
	"github.com/hitoshi/indexman/internal/repository"
	"github.com/hitoshi/indexman/internal/sitemap"
	"github.com/hitoshi/indexman/internal/website"
)

// resolveUser はユーザーIDからユーザーを取得する。存在しない場合はUSER_NOT_FOUNDを返す。
func resolveUser(ctx context.Context, userRepo repository.UserRepository, userID string) (*model.User, error) {
	user, err := userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// WebsiteServiceAdapter は website.Service を WebsiteServiceInterface に適合させるアダプタ。
// ハンドラー層のユーザーID文字列をユーザーエンティティに解決する。
type WebsiteServiceAdapter struct {
	svc      *website.Service
	userRepo repository.UserRepository
}

// NewWebsiteServiceAdapter はWebsiteServiceAdapterを生成する。
func NewWebsiteServiceAdapter(svc *website.Service, userRepo repository.UserRepository) *WebsiteServiceAdapter {
	return &WebsiteServiceAdapter{svc: svc, userRepo: userRepo}
}

// Create はウェブサイトを登録する。
func (a *WebsiteServiceAdapter) Create(ctx context.Context, userID, rawDomain string) (*model.Website, error) {
	user, err := resolveUser(ctx, a.userRepo, userID)
	if err != nil {
		return nil, err
	}
	return a.svc.Create(ctx, user, rawDomain)
}

// List はユーザーのウェブサイト一覧を返す。
func (a *WebsiteServiceAdapter) List(ctx context.Context, userID string) ([]*website.Info, error) {
	user, err := resolveUser(ctx, a.userRepo, userID)
	if err != nil {
		return nil, err
	}
	return a.svc.List(ctx, user)
}

// Get は指定IDのウェブサイトを返す。
func (a *WebsiteServiceAdapter) Get(ctx context.Context, userID, websiteID string) (*website.Info, error) {
	user, err := resolveUser(ctx, a.userRepo, userID)
	if err != nil {
		return nil, err
	}
	return a.svc.Get(ctx, user, websiteID)
}

// Delete はウェブサイトを削除する。
func (a *WebsiteServiceAdapter) Delete(ctx context.Context, userID, websiteID string) error {
	user, err := resolveUser(ctx, a.userRepo, userID)
	if err != nil {
		return err
	}
	return a.svc.Delete(ctx, user, websiteID)
}

// SubmissionServiceAdapter は indexer.Dispatcher を SubmissionServiceInterface に適合させるアダプタ。
// ユーザーとウェブサイトを解決してからディスパッチャに渡す。
type SubmissionServiceAdapter struct {
	dispatcher  *indexer.Dispatcher
	userRepo    repository.UserRepository
	websiteRepo repository.WebsiteRepository
}

// NewSubmissionServiceAdapter はSubmissionServiceAdapterを生成する。
func NewSubmissionServiceAdapter(dispatcher *indexer.Dispatcher, userRepo repository.UserRepository, websiteRepo repository.WebsiteRepository) *SubmissionServiceAdapter {
	return &SubmissionServiceAdapter{dispatcher: dispatcher, userRepo: userRepo, websiteRepo: websiteRepo}
}

// SubmitURLs はURL群を接続済みプロバイダへ送信する。
func (a *SubmissionServiceAdapter) SubmitURLs(ctx context.Context, userID, websiteID string, urls []string, providers []model.ProviderKind) (*model.SubmissionBatch, error) {
	user, err := resolveUser(ctx, a.userRepo, userID)
	if err != nil {
		return nil, err
	}
	w, err := a.websiteRepo.FindByIDForUser(ctx, websiteID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find website: %w", err)
	}
	if w == nil {
		return nil, model.NewWebsiteNotFoundError()
	}
	return a.dispatcher.Dispatch(ctx, user, w, urls, providers)
}

// SitemapServiceAdapter は sitemap.Service を SitemapServiceInterface に適合させるアダプタ。
type SitemapServiceAdapter struct {
	svc      *sitemap.Service
	userRepo repository.UserRepository
}

// NewSitemapServiceAdapter はSitemapServiceAdapterを生成する。
func NewSitemapServiceAdapter(svc *sitemap.Service, userRepo repository.UserRepository) *SitemapServiceAdapter {
	return &SitemapServiceAdapter{svc: svc, userRepo: userRepo}
}

// FetchSitemap はサイトマップを取得してURL数を永続化する。
func (a *SitemapServiceAdapter) FetchSitemap(ctx context.Context, userID, websiteID string) (*model.Website, error) {
	user, err := resolveUser(ctx, a.userRepo, userID)
	if err != nil {
		return nil, err
	}
	return a.svc.FetchSitemap(ctx, user, websiteID)
}

// ListSitemapURLs はサイトマップのURL一覧をライブ取得する。
func (a *SitemapServiceAdapter) ListSitemapURLs(ctx context.Context, userID, websiteID string) ([]string, error) {
	user, err := resolveUser(ctx, a.userRepo, userID)
	if err != nil {
		return nil, err
	}
	return a.svc.ListSitemapURLs(ctx, user, websiteID)
}

// SubmitSitemapURLs はサイトマップのURLを先頭からlimit件送信する。
func (a *SitemapServiceAdapter) SubmitSitemapURLs(ctx context.Context, userID, websiteID string, limit int, providers []model.ProviderKind) (*model.SubmissionBatch, error) {
	user, err := resolveUser(ctx, a.userRepo, userID)
	if err != nil {
		return nil, err
	}
	return a.svc.SubmitSitemapURLs(ctx, user, websiteID, limit, providers)
}

// UpdateSchedule はサイトマップの自動実行スケジュールを変更する。
func (a *SitemapServiceAdapter) UpdateSchedule(ctx context.Context, userID, websiteID string, schedule model.SitemapSchedule) (*model.Website, error) {
	user, err := resolveUser(ctx, a.userRepo, userID)
	if err != nil {
		return nil, err
	}
	return a.svc.UpdateSchedule(ctx, user, websiteID, schedule)
}

// コンパイル時のインターフェース適合チェック
var (
	_ WebsiteServiceInterface    = (*WebsiteServiceAdapter)(nil)
	_ SubmissionServiceInterface = (*SubmissionServiceAdapter)(nil)
	_ SitemapServiceInterface    = (*SitemapServiceAdapter)(nil)
)
