package login

import (
	"crypto/md5"
	"encoding/hex"
)

// maxPasswordLen is how many characters of the password the grid looks at.
const maxPasswordLen = 16

// HashPassword returns the "$1$" prefixed md5 digest the login server
// compares against. Only the first 16 characters take part.
func HashPassword(password string) string {
	runes := []rune(password)
	if len(runes) > maxPasswordLen {
		runes = runes[:maxPasswordLen]
	}
	sum := md5.Sum([]byte(string(runes)))
	return "$1$" + hex.EncodeToString(sum[:])
}
