package scraper

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func decodeAll(t *testing.T, d Detection, b []byte) string {
	t.Helper()
	out, err := io.ReadAll(d.NewReader(bytes.NewReader(b)))
	require.NoError(t, err)
	return string(out)
}

const frenchSample = "Numéro d'enregistrement,Société,Date d'entrée en vigueur,Pays\n" +
	"12345,Société générale de développement économique,2024-01-15,Canada\n" +
	"12346,Association québécoise des élèves,2023-11-02,Canada\n" +
	"12347,Fédération des médecins spécialistes,2022-07-30,Canada\n"

func TestDetectEncoding_UTF8(t *testing.T) {
	d := DetectEncoding([]byte(frenchSample), 40)

	assert.Equal(t, "UTF-8", d.Charset)
	assert.Equal(t, 100, d.Confidence)
	assert.False(t, d.Fallback)
	assert.Equal(t, frenchSample, decodeAll(t, d, []byte(frenchSample)))
}

func TestDetectEncoding_UTF8BOMIsStripped(t *testing.T) {
	in := append([]byte{0xEF, 0xBB, 0xBF}, []byte("REG_ID_ENR,date\n")...)
	d := DetectEncoding(in, 40)

	assert.Equal(t, "UTF-8", d.Charset)
	assert.Equal(t, "REG_ID_ENR,date\n", decodeAll(t, d, in))
}

func TestDetectEncoding_TruncatedRuneAtEndOfSample(t *testing.T) {
	full := []byte("Société")
	sample := full[:len(full)-1] // cut inside the final "é"
	d := DetectEncoding(sample, 40)
	assert.Equal(t, "UTF-8", d.Charset)
}

func TestDetectEncoding_ASCII(t *testing.T) {
	d := DetectEncoding([]byte("id,date\n1,2024-01-01\n"), 40)
	assert.Equal(t, "UTF-8", d.Charset)
	assert.False(t, d.Fallback)
}

func TestDetectEncoding_ASCIIHeadWithLatin1Tail(t *testing.T) {
	head := []byte(strings.Repeat("12345,Acme Corp,2024-01-15,Canada\n", 8))
	file := append(bytes.Clone(head), []byte("12346,Soci\xe9t\xe9,2024-01-16,Canada\n")...)

	// A sample that stops before the accents reads the file as UTF-8.
	short := DetectEncoding(head, 40)
	require.Equal(t, "UTF-8", short.Charset)
	assert.Contains(t, decodeAll(t, short, file), "Soci\uFFFDt\uFFFD")

	// A sample that reaches them does not.
	whole := DetectEncoding(file, 101)
	assert.True(t, whole.Fallback)
	assert.Contains(t, decodeAll(t, whole, file), "Société")
}

func TestDetectEncoding_Latin1(t *testing.T) {
	latin1, err := charmap.ISO8859_1.NewEncoder().String(strings.Repeat(frenchSample, 4))
	require.NoError(t, err)

	d := DetectEncoding([]byte(latin1), 40)

	assert.NotEqual(t, "UTF-8", d.Charset)
	assert.Contains(t, decodeAll(t, d, []byte(latin1)), "Société générale")
}

func TestDetectEncoding_LowConfidenceFallsBack(t *testing.T) {
	latin1, err := charmap.ISO8859_1.NewEncoder().String(frenchSample)
	require.NoError(t, err)

	// No heuristic result can reach a threshold above 100.
	d := DetectEncoding([]byte(latin1), 101)

	assert.True(t, d.Fallback)
	assert.Equal(t, DefaultEncoding, d.Charset)
	assert.Contains(t, decodeAll(t, d, []byte(latin1)), "Société")
}

func TestDetection_InvalidBytesAreReplaced(t *testing.T) {
	d := DetectEncoding([]byte("abc,déf\n"), 40)
	require.Equal(t, "UTF-8", d.Charset)

	out := decodeAll(t, d, []byte("abc,\xff\xfe,def\n"))
	assert.Equal(t, "abc,\uFFFD\uFFFD,def\n", out)
}

func TestDetection_ZeroValueReadsAsDefault(t *testing.T) {
	var d Detection
	assert.Equal(t, "é", decodeAll(t, d, []byte{0xE9}))
}
