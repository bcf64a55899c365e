package chat

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// The chat protocol is line-oriented, one command per websocket text
// frame. The server opens with "CHALLENGE <nonce>", the client answers
// "LOGIN <user> <mac>" where mac is the hex HMAC-SHA256 of the nonce
// keyed with the account credential, and the server confirms with
// "OK" or rejects with "FAIL <reason>".
const (
	cmdChallenge = "CHALLENGE"
	cmdLogin     = "LOGIN"
	cmdOK        = "OK"
	cmdFail      = "FAIL"
	cmdJoin      = "JOIN"
	cmdSay       = "SAY"
	cmdPing      = "PING"
	cmdPong      = "PONG"
)

// parseLine splits a protocol line into its command and the remainder.
func parseLine(line string) (cmd, rest string) {
	cmd, rest, _ = strings.Cut(strings.TrimRight(line, "\r\n"), " ")
	return cmd, rest
}

func signChallenge(nonce, credential string) string {
	mac := hmac.New(sha256.New, []byte(credential))
	mac.Write([]byte(nonce))

	return hex.EncodeToString(mac.Sum(nil))
}

func loginLine(user, mac string) string {
	return cmdLogin + " " + user + " " + mac
}

func joinLine(room string) string {
	return cmdJoin + " " + room
}

func sayLine(room, text string) string {
	return cmdSay + " " + room + " " + text
}
