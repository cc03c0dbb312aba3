package grok

import (
	"encoding/base64"
	"math/rand"
)

const (
	alnumChars     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	lowercaseChars = "abcdefghijklmnopqrstuvwxyz"
)

// GenerateStatsigID fabricates an x-statsig-id value. Upstream accepts the
// base64 of a browser-shaped TypeError message; two observed shapes are
// emitted with equal probability so the ids do not all share one template.
func GenerateStatsigID() string {
	var message string
	if rand.Intn(2) == 0 {
		message = "e:TypeError: Cannot read properties of null (reading 'children['" + randomString(alnumChars, 5) + "']')"
	} else {
		message = "e:TypeError: Cannot read properties of undefined (reading '" + randomString(lowercaseChars, 10) + "')"
	}
	return base64.StdEncoding.EncodeToString([]byte(message))
}

func randomString(charset string, n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = charset[rand.Intn(len(charset))]
	}
	return string(out)
}
