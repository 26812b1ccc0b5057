package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	// APIKeyPrefix はこのサービスが発行するAPIキーの識別子です。
	APIKeyPrefix = "pdfe_"
	apiKeyBytes  = 32
)

// GenerateAPIKey は新しいAPIキーを生成します。
// 平文キーは呼び出し元が一度だけ利用者に提示し、データベースには
// SHA-256ハッシュと識別用プレフィックスのみを保存します。
func GenerateAPIKey() (key, hash, prefix string, err error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(buf)
	key = APIKeyPrefix + encoded
	hash = HashAPIKey(key)

	prefix = APIKeyPrefix
	if len(encoded) >= 8 {
		prefix = APIKeyPrefix + encoded[:8]
	}
	return key, hash, prefix, nil
}

// HashAPIKey は照合用にAPIキーのSHA-256ハッシュを計算します。
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
