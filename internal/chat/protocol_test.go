package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLine(t *testing.T) {
	cmd, rest := parseLine("CHALLENGE nonce-123")
	assert.Equal(t, "CHALLENGE", cmd)
	assert.Equal(t, "nonce-123", rest)

	cmd, rest = parseLine("OK")
	assert.Equal(t, "OK", cmd)
	assert.Empty(t, rest)

	cmd, rest = parseLine("SAY dev hello world\r\n")
	assert.Equal(t, "SAY", cmd)
	assert.Equal(t, "dev hello world", rest)
}

func TestSignChallengeIsDeterministicAndKeyed(t *testing.T) {
	mac := signChallenge("nonce", "credential")

	assert.Equal(t, mac, signChallenge("nonce", "credential"))
	assert.NotEqual(t, mac, signChallenge("nonce", "other-credential"))
	assert.NotEqual(t, mac, signChallenge("other-nonce", "credential"))
	assert.Len(t, mac, 64, "hex encoded hmac-sha256")
}
