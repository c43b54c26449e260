package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lgandecki/slashcmd/internal/model"
)

// TierSeed は起動時に投入する静的な階層割り当て。
//
//	tiers:
//	  "github:42": pro
//	  "github:7": free
type TierSeed struct {
	Tiers map[string]string `yaml:"tiers"`
}

// LoadTierSeed はYAMLファイルから階層割り当てを読み込む。
// サブジェクトIDは "<provider>:<id>" 形式でなければならない。
func LoadTierSeed(path string) (map[string]model.Tier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tier seed file: %w", err)
	}

	var seed TierSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse tier seed file: %w", err)
	}

	tiers := make(map[string]model.Tier, len(seed.Tiers))
	for subjectID, tier := range seed.Tiers {
		if !strings.Contains(subjectID, ":") {
			return nil, fmt.Errorf("invalid subject id %q in tier seed file", subjectID)
		}
		tier = strings.TrimSpace(tier)
		if tier == "" {
			return nil, fmt.Errorf("empty tier for subject %q in tier seed file", subjectID)
		}
		tiers[subjectID] = model.Tier(tier)
	}
	return tiers, nil
}
