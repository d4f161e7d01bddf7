package canonical

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	xunicode "golang.org/x/text/encoding/unicode"
)

const (
	sampleSize       = 200_000
	minConfidence    = 50
	maxBadRuneRatio  = 0.05
	fallbackEncoding = "windows-1252"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// detectEncoding guesses the charset of raw from its leading sample.
func detectEncoding(raw []byte) string {
	switch {
	case bytes.HasPrefix(raw, bomUTF8):
		return "UTF-8"
	case bytes.HasPrefix(raw, bomUTF16LE):
		return "UTF-16LE"
	case bytes.HasPrefix(raw, bomUTF16BE):
		return "UTF-16BE"
	}

	sample := raw
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
		// A multi-byte rune may straddle the cut.
		for i := 0; i < utf8.UTFMax && !utf8.Valid(sample); i++ {
			sample = sample[:len(sample)-1]
		}
	}
	if utf8.Valid(sample) {
		return "UTF-8"
	}

	result, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil || result == nil || result.Charset == "" || result.Confidence < minConfidence {
		return fallbackEncoding
	}
	return result.Charset
}

func lookupEncoding(name string) (encoding.Encoding, bool) {
	switch strings.ToUpper(name) {
	case "UTF-8":
		return nil, true
	case "UTF-16LE":
		return xunicode.UTF16(xunicode.LittleEndian, xunicode.UseBOM), true
	case "UTF-16BE":
		return xunicode.UTF16(xunicode.BigEndian, xunicode.UseBOM), true
	case "WINDOWS-1252":
		return charmap.Windows1252, true
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, false
	}
	return enc, true
}

// decode converts raw to UTF-8. The detected charset is tried first and
// windows-1252 second; undecodable byte sequences become U+FFFD. An attempt
// is rejected when too much of the output is replacement or control runes.
func decode(raw []byte) (text string, charset string, err error) {
	detected := detectEncoding(raw)
	attempts := []string{detected}
	if !strings.EqualFold(detected, "UTF-8") {
		attempts = append(attempts, "UTF-8")
	}
	if !strings.EqualFold(detected, fallbackEncoding) {
		attempts = append(attempts, fallbackEncoding)
	}

	for _, name := range attempts {
		enc, ok := lookupEncoding(name)
		if !ok {
			continue
		}
		var out string
		if enc == nil {
			out = strings.ToValidUTF8(string(bytes.TrimPrefix(raw, bomUTF8)), "�")
		} else {
			decoded, derr := enc.NewDecoder().Bytes(raw)
			if derr != nil {
				continue
			}
			out = string(decoded)
		}
		out = strings.TrimPrefix(out, "\uFEFF")
		if acceptable(out) {
			return strings.ReplaceAll(out, "\x00", ""), name, nil
		}
	}
	return "", detected, ErrDecode
}

func acceptable(text string) bool {
	total, bad := 0, 0
	for _, r := range text {
		total++
		switch {
		case r == utf8.RuneError:
			bad++
		case r == '\t' || r == '\n' || r == '\r':
		case unicode.IsControl(r):
			bad++
		}
	}
	if total == 0 {
		return false
	}
	return float64(bad)/float64(total) <= maxBadRuneRatio
}
