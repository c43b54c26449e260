package model

// AuthSessionStatus は認証セッションの状態を表す。
type AuthSessionStatus string

const (
	// AuthSessionPending はブラウザでのログイン完了待ち。
	AuthSessionPending AuthSessionStatus = "pending"
	// AuthSessionComplete はログインが完了し、CLIのポーリングによる受け取り待ち。
	AuthSessionComplete AuthSessionStatus = "complete"
)

// AuthSession はCLIのポーリングとブラウザでのOAuth完了を橋渡しする短命なレコード。
// pendingの間は身元情報を持たない。
type AuthSession struct {
	Status     AuthSessionStatus `json:"status"`
	Token      string            `json:"token,omitempty"`
	User       string            `json:"user,omitempty"`
	ExternalID string            `json:"externalId,omitempty"`
}

// IsPending は完了待ちのセッションかどうかを返す。
func (s *AuthSession) IsPending() bool {
	return s.Status == AuthSessionPending
}

// IsComplete は完了済みのセッションかどうかを返す。
func (s *AuthSession) IsComplete() bool {
	return s.Status == AuthSessionComplete
}
