// scraper/encoding.go
package scraper

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultEncoding is used when detection is not confident enough. Every byte
// decodes under windows-1252, so reading never fails.
const DefaultEncoding = "windows-1252"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Detection is the outcome of DetectEncoding.
type Detection struct {
	// Charset is the canonical name of the encoding used to decode the file.
	Charset string
	// Confidence is 0-100.
	Confidence int
	// Fallback is true when DefaultEncoding was chosen because detection was
	// inconclusive. It is informational, never an error.
	Fallback bool
	// Detected is what the heuristic reported, which may differ from Charset
	// when it was rejected.
	Detected string

	enc encoding.Encoding
}

// DetectEncoding inspects a prefix of a file and picks the encoding to decode
// the whole file with. Results below minConfidence, or charsets x/text does
// not support, fall back to DefaultEncoding. It never fails.
func DetectEncoding(sample []byte, minConfidence int) Detection {
	if bytes.HasPrefix(sample, utf8BOM) || (validUTF8Prefix(sample) && !isASCII(sample)) {
		return Detection{Charset: "UTF-8", Confidence: 100, Detected: "UTF-8", enc: unicode.UTF8BOM}
	}
	if isASCII(sample) {
		// Plain ASCII decodes identically under UTF-8; later non-ASCII bytes
		// still decode with replacement.
		return Detection{Charset: "UTF-8", Confidence: 100, Detected: "US-ASCII", enc: unicode.UTF8BOM}
	}

	res, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil || res == nil {
		return fallbackDetection("", 0)
	}
	if res.Confidence < minConfidence {
		return fallbackDetection(res.Charset, res.Confidence)
	}
	if strings.EqualFold(res.Charset, "UTF-8") {
		return Detection{Charset: "UTF-8", Confidence: res.Confidence, Detected: res.Charset, enc: unicode.UTF8BOM}
	}
	enc, err := htmlindex.Get(res.Charset)
	if err != nil {
		return fallbackDetection(res.Charset, res.Confidence)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = res.Charset
	}
	return Detection{Charset: name, Confidence: res.Confidence, Detected: res.Charset, enc: enc}
}

func fallbackDetection(detected string, confidence int) Detection {
	return Detection{
		Charset:    DefaultEncoding,
		Confidence: confidence,
		Fallback:   true,
		Detected:   detected,
		enc:        charmap.Windows1252,
	}
}

// NewReader wraps r so it yields UTF-8. Undecodable bytes become U+FFFD.
func (d Detection) NewReader(r io.Reader) io.Reader {
	enc := d.enc
	if enc == nil {
		enc = charmap.Windows1252
	}
	return transform.NewReader(r, enc.NewDecoder())
}

// validUTF8Prefix reports whether b is valid UTF-8, ignoring a rune cut off
// at the end of the sample.
func validUTF8Prefix(b []byte) bool {
	if utf8.Valid(b) {
		return true
	}
	for cut := 1; cut < utf8.UTFMax && cut <= len(b); cut++ {
		if utf8.Valid(b[:len(b)-cut]) && !utf8.FullRune(b[len(b)-cut:]) {
			return true
		}
	}
	return false
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
