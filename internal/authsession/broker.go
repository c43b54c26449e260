// Package authsession はCLIのポーリングとブラウザでのOAuth完了をつなぐ
// 短命な認証セッションを管理する。
package authsession

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/lgandecki/slashcmd/internal/model"
)

const (
	// DefaultPendingTTL はログイン開始直後のセッションの有効期間。
	DefaultPendingTTL = 10 * time.Minute
	// DefaultCompleteTTL は完了済みで未受け取りのセッションの有効期間。
	DefaultCompleteTTL = 5 * time.Minute
	// DefaultTokenTTL は完了時に発行するトークンの有効期間。
	DefaultTokenTTL = 30 * 24 * time.Hour

	sessionIDBytes = 16
)

var (
	// ErrInvalidSession はpending以外のセッションを完了しようとしたことを表す。
	ErrInvalidSession = errors.New("invalid session")
	// ErrSessionNotFound はセッションが存在しない、期限切れ、または受け取り済みであることを表す。
	ErrSessionNotFound = errors.New("session not found")
)

// SessionStore は認証セッションの永続化。
type SessionStore interface {
	Save(ctx context.Context, sessionID string, s *model.AuthSession, ttl time.Duration) error
	FindByID(ctx context.Context, sessionID string) (*model.AuthSession, error)
	// TakeByID はセッションを取得して削除する。並行呼び出しで受け取れるのは1回だけ。
	TakeByID(ctx context.Context, sessionID string) (*model.AuthSession, error)
	// CompletePending はpendingのセッションを原子的に完了状態へ置き換える。
	// pendingでない、または存在しない場合はfalseを返す。
	CompletePending(ctx context.Context, sessionID string, complete *model.AuthSession, ttl time.Duration) (bool, error)
}

// TokenIssuer はトークンの発行。
type TokenIssuer interface {
	Issue(subjectID string, tier model.Tier, username string, ttl time.Duration) (string, error)
}

// TierReader は階層レコードの読み出し。
type TierReader interface {
	Get(ctx context.Context, subjectID string) (model.Tier, bool, error)
}

// Config はBrokerの設定。ゼロ値の期間はデフォルト値を使う。
type Config struct {
	AuthPageURL string
	PendingTTL  time.Duration
	CompleteTTL time.Duration
	TokenTTL    time.Duration
}

// StartResult はログイン開始の結果。
type StartResult struct {
	SessionID string
	AuthURL   string
}

// PollResult はポーリングの結果。Pendingがfalseの場合は完了済みの内容を持つ。
type PollResult struct {
	Pending    bool
	Token      string
	User       string
	ExternalID string
}

// Broker はpending→completeの2段階の認証セッションを仲介する。
type Broker struct {
	sessions SessionStore
	tokens   TokenIssuer
	tiers    TierReader
	config   Config
}

// NewBroker はBrokerを生成する。
func NewBroker(sessions SessionStore, tokens TokenIssuer, tiers TierReader, config Config) *Broker {
	if config.PendingTTL <= 0 {
		config.PendingTTL = DefaultPendingTTL
	}
	if config.CompleteTTL <= 0 {
		config.CompleteTTL = DefaultCompleteTTL
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultTokenTTL
	}
	return &Broker{sessions: sessions, tokens: tokens, tiers: tiers, config: config}
}

// Start は新しいpendingセッションを作成し、ブラウザで開くURLを返す。
func (b *Broker) Start(ctx context.Context) (*StartResult, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	pending := &model.AuthSession{Status: model.AuthSessionPending}
	if err := b.sessions.Save(ctx, sessionID, pending, b.config.PendingTTL); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	authURL, err := b.authURL(sessionID)
	if err != nil {
		return nil, err
	}
	return &StartResult{SessionID: sessionID, AuthURL: authURL}, nil
}

// Poll はセッションの状態を返す。
// 完了済みの場合は内容を返すと同時にセッションを削除する。
// 存在しない場合はErrSessionNotFoundを返す。
func (b *Broker) Poll(ctx context.Context, sessionID string) (*PollResult, error) {
	s, err := b.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	if s.IsPending() {
		return &PollResult{Pending: true}, nil
	}

	taken, err := b.sessions.TakeByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to take session: %w", err)
	}
	// 別のポーリングが先に受け取った
	if taken == nil || !taken.IsComplete() {
		return nil, ErrSessionNotFound
	}

	return &PollResult{
		Token:      taken.Token,
		User:       taken.User,
		ExternalID: taken.ExternalID,
	}, nil
}

// Complete はpendingセッションを完了させ、30日有効のトークンを発行して格納する。
// pendingでないセッションはErrInvalidSessionで拒否する。
// 同じセッションへの並行な完了は1件だけが成功する。
func (b *Broker) Complete(ctx context.Context, sessionID, externalID, username string) error {
	if externalID == "" {
		return ErrInvalidSession
	}

	s, err := b.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}
	if s == nil || !s.IsPending() {
		return ErrInvalidSession
	}

	subjectID := model.SubjectID(model.ProviderGitHub, externalID)
	tier := b.currentTier(ctx, subjectID)

	tok, err := b.tokens.Issue(subjectID, tier, username, b.config.TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	complete := &model.AuthSession{
		Status:     model.AuthSessionComplete,
		Token:      tok,
		User:       username,
		ExternalID: externalID,
	}
	swapped, err := b.sessions.CompletePending(ctx, sessionID, complete, b.config.CompleteTTL)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	// 確認後に別の完了またはポーリングが先行した
	if !swapped {
		return ErrInvalidSession
	}

	slog.Info("auth session completed",
		slog.String("subject", subjectID),
		slog.String("tier", string(tier)),
	)
	return nil
}

// currentTier は発行時点の階層を返す。レコードがなければfree。
func (b *Broker) currentTier(ctx context.Context, subjectID string) model.Tier {
	tier, ok, err := b.tiers.Get(ctx, subjectID)
	if err != nil {
		slog.Warn("failed to read tier record, issuing free token",
			slog.String("subject", subjectID),
			slog.String("error", err.Error()),
		)
		return model.TierFree
	}
	if !ok {
		return model.TierFree
	}
	return tier
}

func (b *Broker) authURL(sessionID string) (string, error) {
	u, err := url.Parse(b.config.AuthPageURL)
	if err != nil {
		return "", fmt.Errorf("invalid auth page url: %w", err)
	}
	q := u.Query()
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// generateSessionID は128ビットの暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
