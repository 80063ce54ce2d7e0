// Package channel implements the messaging transports a survey runs on.
package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Readier is implemented by channels that connect asynchronously inside
// Start; Ready is closed once they can send.
type Readier interface {
	Ready() <-chan struct{}
}

// splitMessage splits msg into chunks of at most maxLen bytes, preferring to
// cut after a newline and never cutting inside a UTF-8 sequence.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

// verifyHMAC checks a "sha256=<hex>" signature of body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// mediaType guesses a MIME type from the file extension.
func mediaType(path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return "application/octet-stream"
}

func isImage(path string) bool {
	return strings.HasPrefix(mediaType(path), "image/")
}
