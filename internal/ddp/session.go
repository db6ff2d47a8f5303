package ddp

import "crypto/rand"

// SessionIDLength is the length of minted session identifiers.
const SessionIDLength = 10

const alphanumeric = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// NewSessionID returns a random alphanumeric session identifier drawn from a
// cryptographic source.
func NewSessionID() string {
	return randomString(SessionIDLength)
}

func randomString(n int) string {
	// largest multiple of len(alphanumeric) below 256, so b%62 stays uniform
	const limit = 256 - 256%len(alphanumeric)
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			panic("ddp: crypto/rand failed: " + err.Error())
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphanumeric[int(b)%len(alphanumeric)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out)
}
