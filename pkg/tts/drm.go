package tts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// trustedClientToken is the fixed Edge Read Aloud client token shared by
// every caller of the consumer synthesis endpoint.
const trustedClientToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"

// winEpoch is the number of seconds between the Windows FILETIME epoch
// (1601-01-01) and the Unix epoch (1970-01-01).
const winEpoch = 11_644_473_600

// secMSGECVersion is sent alongside the token and pinned to a recent
// Edge build the endpoint is known to accept.
const secMSGECVersion = "1-143.0.3650.75"

// GenerateSecMSGEC produces the Sec-MS-GEC security token: the current
// Unix time shifted into Windows epoch seconds, rounded down to a
// 5-minute boundary, converted to 100ns ticks, concatenated with
// trustedClientToken, and SHA-256 hashed to uppercase hex.
func GenerateSecMSGEC(now time.Time) string {
	unixSecs := uint64(now.Unix())
	ticks := unixSecs + winEpoch
	ticks -= ticks % 300
	ticks100ns := ticks * 10_000_000
	toHash := fmt.Sprintf("%d%s", ticks100ns, trustedClientToken)
	sum := sha256.Sum256([]byte(toHash))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// SynthesizeURL builds the consumer Edge Read Aloud websocket endpoint
// URL, including the DRM token and a fresh connection id.
func SynthesizeURL(connectionID string, now time.Time) string {
	return fmt.Sprintf(
		"wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"+
			"?TrustedClientToken=%s&ConnectionId=%s&Sec-MS-GEC=%s&Sec-MS-GEC-Version=%s",
		trustedClientToken, connectionID, GenerateSecMSGEC(now), secMSGECVersion,
	)
}
