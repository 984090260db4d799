package news

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// dedupContentRunes bounds the content basis of DedupKey when no snippet is available.
const dedupContentRunes = 500

var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"msclkid": {},
	"ref":     {},
	"source":  {},
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := trackingParams[k]
	return ok
}

// NormalizeLink strips tracking query parameters (utm_*, fbclid, gclid, msclkid, ref, source).
// Input that is not an absolute URL is returned unchanged, as is a URL without tracking parameters.
func NormalizeLink(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	if u.RawQuery == "" {
		return raw
	}

	// pairs are filtered one by one so a malformed escape elsewhere in the
	// query does not keep the tracking parameters
	pairs := strings.Split(u.RawQuery, "&")
	kept := pairs[:0]
	changed := false
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if isTrackingParam(key) {
			changed = true
			continue
		}
		kept = append(kept, pair)
	}
	if !changed {
		return raw
	}

	u.RawQuery = strings.Join(kept, "&")
	u.ForceQuery = false
	return u.String()
}

// normalizeText lower-cases and collapses whitespace runs into single spaces.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Fingerprint hashes the normalized title with the normalized snippet (or content when the snippet is empty).
// Returns "" when both parts are empty.
func Fingerprint(title, snippet, content string) string {
	t := normalizeText(title)
	body := normalizeText(snippet)
	if body == "" {
		body = normalizeText(content)
	}
	if t == "" && body == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(t + "\n" + body))
	return hex.EncodeToString(sum[:])
}

// DedupKey is a second duplicate signal: the content basis is the snippet, else the first
// 500 normalized characters of content. Returns "" when the title or the basis is empty.
func DedupKey(title, snippet, content string) string {
	t := normalizeText(title)
	basis := normalizeText(snippet)
	if basis == "" {
		basis = truncateRunes(normalizeText(content), dedupContentRunes)
	}
	if t == "" || basis == "" {
		return ""
	}

	h := sha1.New()
	h.Write([]byte(t + "|" + basis))
	return hex.EncodeToString(h.Sum(nil))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
