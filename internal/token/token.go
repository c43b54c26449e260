// Package token はHMAC署名付きの期限付きベアラートークンを発行・検証する。
// 外部ストレージには一切アクセスせず、トークンと共有秘密鍵だけで完結する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lgandecki/slashcmd/internal/model"
)

var (
	// ErrInvalidToken は形式不正・署名不一致のトークンを表す。
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired は有効期限切れのトークンを表す。
	ErrTokenExpired = errors.New("token expired")
)

// Claims はトークンのペイロード。
// tierが欠落している場合はfreeとして扱う。
type Claims struct {
	Tier     string `json:"tier,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Service はトークンの発行と検証を行う。
type Service struct {
	secret []byte
	now    func() time.Time
}

// NewService はServiceを生成する。
func NewService(secret string) *Service {
	return NewServiceWithClock(secret, time.Now)
}

// NewServiceWithClock は現在時刻の取得関数を差し替えたServiceを生成する。
func NewServiceWithClock(secret string, now func() time.Time) *Service {
	return &Service{secret: []byte(secret), now: now}
}

// Issue はサブジェクト・階層・ユーザー名を含むHS256トークンを発行する。
func (s *Service) Issue(subjectID string, tier model.Tier, username string, ttl time.Duration) (string, error) {
	if subjectID == "" {
		return "", fmt.Errorf("subject id is required")
	}
	now := s.now()
	claims := Claims{
		Tier:     string(tier),
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンの構造・署名・有効期限を検証し、アイデンティティを返す。
// 失敗時はErrInvalidTokenまたはErrTokenExpiredを返す。
func (s *Service) Verify(tokenString string) (*model.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &model.Identity{
		SubjectID: claims.Subject,
		Tier:      model.TierOrDefault(claims.Tier),
		Username:  claims.Username,
	}, nil
}
