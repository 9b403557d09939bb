package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadRiskPolicy overlays a YAML risk policy onto base and validates the result
// 파일에 없는 필드는 base 값 유지, 알 수 없는 필드는 즉시 실패
// ⭐ SSOT: 임계값 튜닝은 정책 파일 하나로
func LoadRiskPolicy(path string, base RiskConfig) (RiskConfig, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, nil, err
	}

	risk := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // 오타/미사용 필드 발견 시 에러
	if err := dec.Decode(&risk); err != nil {
		return base, data, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := risk.Validate(); err != nil {
		return base, data, err
	}

	return risk, data, nil
}

// HashRisk SHA256 of the canonical JSON form
// 주의: map 없이 struct만 사용해서 필드 순서가 고정됨
func HashRisk(r RiskConfig) (string, error) {
	jsonBytes, err := json.Marshal(r)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}
