package model

// UnlimitedQuota は上限なしを表すlimitの番兵値。
const UnlimitedQuota = -1

// QuotaStatus はクォータ確認の結果を表す。
type QuotaStatus struct {
	Allowed bool
	Usage   int
	Limit   int
	Warning bool
}

// Remaining は残り利用回数を返す。上限なしの場合は-1を返す。
func (q QuotaStatus) Remaining() int {
	if q.Limit == UnlimitedQuota {
		return UnlimitedQuota
	}
	if r := q.Limit - q.Usage; r > 0 {
		return r
	}
	return 0
}
