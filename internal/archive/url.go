package archive

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// maxBlobStem bounds the sanitized URL portion of a blob file name.
const maxBlobStem = 60

// Normalize returns the canonical cache key for rawURL. It drops the fragment,
// trailing path separators and surrounding whitespace. Normalize is idempotent.
func Normalize(rawURL string) string {
	u := strings.TrimSpace(rawURL)
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimRightFunc(u, func(r rune) bool {
		return r == '/' || unicode.IsSpace(r)
	})
	return strings.TrimLeftFunc(u, unicode.IsSpace)
}

// Applied in order; later rules see the output of earlier ones.
var blobNameRules = [][2]string{
	{"https://", ""},
	{"http://", ""},
	{"/", "_"},
	{"www.", ""},
	{"wwwnc.", ""},
	{".html", ""},
	{".pdf", ""},
	{".", "-"},
	{"?", "__"},
	{"=", "-"},
	{"#", "-"},
	{"&", "__"},
	{"\n", "__"},
	{"\\", "__"},
}

// SanitizeURL turns a URL into a file name stem free of path separators,
// truncated to 60 characters.
func SanitizeURL(url string) string {
	name := url
	for _, rule := range blobNameRules {
		name = strings.ReplaceAll(name, rule[0], rule[1])
	}
	if utf8.RuneCountInString(name) > maxBlobStem {
		name = string([]rune(name)[:maxBlobStem])
	}
	return name
}

// BlobFileName derives the blob file name for url collected at the given time:
// <sanitized-url>.<unix seconds>.<microseconds>.<ext>.
func BlobFileName(url string, collectedAt time.Time, mime MimeKind) string {
	return fmt.Sprintf("%s.%s.%s", SanitizeURL(url), collectionStamp(collectedAt), mime.Extension())
}

func collectionStamp(t time.Time) string {
	micros := t.UnixMicro()
	return fmt.Sprintf("%d.%06d", micros/1_000_000, micros%1_000_000)
}
