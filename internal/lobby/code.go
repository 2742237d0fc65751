package lobby

import (
	"math/rand"
	"strings"
)

// codeAlphabet omits 0/O and 1/I so codes read unambiguously when shared
// out loud or scrawled on a whiteboard.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomCode(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(codeAlphabet[rand.Intn(len(codeAlphabet))])
	}
	return b.String()
}
