package directory

import (
	"crypto/rand"
	"strings"
)

const referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewReferralReference returns a short human-readable referral reference.
func NewReferralReference() string {
	var b [10]byte
	_, _ = rand.Read(b[:])
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteByte(referenceAlphabet[int(c)%len(referenceAlphabet)])
	}
	return sb.String()
}
