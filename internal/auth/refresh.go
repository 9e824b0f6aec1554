package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// RefreshToken signs a service id and its last modification time. The token
// stops verifying once the service is modified again.
func RefreshToken(secret, serviceID string, lastModified time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(serviceID))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(lastModified.UTC().Unix(), 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyRefreshToken checks a token produced by RefreshToken.
func VerifyRefreshToken(secret, serviceID string, lastModified time.Time, token string) bool {
	if secret == "" || token == "" {
		return false
	}
	want := RefreshToken(secret, serviceID, lastModified)
	return hmac.Equal([]byte(want), []byte(token))
}
