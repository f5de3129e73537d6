package extract

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntrivedi/adviceparser/constants"
	"github.com/ntrivedi/adviceparser/internal/common"
)

// fakeRunner scripts the external binaries by command name.
type fakeRunner struct {
	pdftotextOut string
	pdftotextErr error
	tesseractOut string
	tesseractErr error
	pages        int

	calls []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, name)
	switch name {
	case "pdftotext":
		return []byte(f.pdftotextOut), nil, f.pdftotextErr
	case "pdftoppm":
		// Rasterize: drop fake page files next to the prefix.
		prefix := args[len(args)-1]
		for i := 1; i <= f.pages; i++ {
			if err := os.WriteFile(prefix+"-"+string(rune('0'+i))+".png", []byte("png"), 0o600); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	case "tesseract":
		return []byte(f.tesseractOut), nil, f.tesseractErr
	}
	return nil, nil, errors.New("unexpected command " + name)
}

var longText = strings.Repeat("payment advice text ", 10)

func TestExtractPDFText(t *testing.T) {
	r := &fakeRunner{pdftotextOut: longText}
	e := NewExtractorWithRunner(Config{}, r, nil)

	res, err := e.Extract(context.Background(), Document{Ref: "a.pdf", Data: []byte("%PDF")})
	require.NoError(t, err)
	assert.Equal(t, constants.PDF, res.Format)
	assert.Equal(t, "pdf-text", res.Method)
	assert.Equal(t, longText, res.Text)
	assert.Equal(t, []string{"pdftotext"}, r.calls)
}

func TestExtractPDFFallsBackToOCR(t *testing.T) {
	r := &fakeRunner{pdftotextOut: "  ", tesseractOut: longText, pages: 2}
	e := NewExtractorWithRunner(Config{}, r, nil)

	res, err := e.Extract(context.Background(), Document{Ref: "scan.pdf", Data: []byte("%PDF"), UseOCR: true})
	require.NoError(t, err)
	assert.Equal(t, "pdf-ocr", res.Method)
	assert.Equal(t, 2, res.Pages)
	assert.Contains(t, res.Text, "payment advice text")
	assert.Equal(t, []string{"pdftotext", "pdftoppm", "tesseract", "tesseract"}, r.calls)
}

func TestExtractPDFOCRDisabled(t *testing.T) {
	r := &fakeRunner{pdftotextOut: "short"}
	e := NewExtractorWithRunner(Config{}, r, nil)

	_, err := e.Extract(context.Background(), Document{Ref: "scan.pdf", Data: []byte("%PDF")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrExtractionFailed))
	assert.Equal(t, []string{"pdftotext"}, r.calls, "ocr path must not run when disabled")
}

func TestExtractPDFOCRStillEmpty(t *testing.T) {
	r := &fakeRunner{pdftotextOut: "", tesseractOut: "x", pages: 1}
	e := NewExtractorWithRunner(Config{}, r, nil)

	_, err := e.Extract(context.Background(), Document{Ref: "blank.pdf", Data: []byte("%PDF"), UseOCR: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrExtractionFailed))
}

func TestExtractTXTPassthrough(t *testing.T) {
	e := NewExtractor(Config{MinTextLength: 5}, nil)
	res, err := e.Extract(context.Background(), Document{Ref: "advice.txt", Data: []byte("plain advice text")})
	require.NoError(t, err)
	assert.Equal(t, constants.TXT, res.Format)
	assert.Equal(t, "passthrough", res.Method)
}

func TestExtractXMLPassthroughByContentType(t *testing.T) {
	e := NewExtractor(Config{MinTextLength: 5}, nil)
	res, err := e.Extract(context.Background(), Document{
		Ref:         "remit.bin",
		ContentType: "application/xml",
		Data:        []byte("<cXML>payload</cXML>"),
	})
	require.NoError(t, err)
	assert.Equal(t, constants.XML, res.Format)
}

func TestExtractUnsupportedType(t *testing.T) {
	e := NewExtractor(Config{}, nil)
	_, err := e.Extract(context.Background(), Document{Ref: "sheet.xlsx", Data: []byte("zip")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrExtractionFailed))
}

func TestExtractCleansUpTempDir(t *testing.T) {
	scratch := t.TempDir()
	r := &fakeRunner{pdftotextOut: longText}
	e := NewExtractorWithRunner(Config{TempDir: scratch}, r, nil)

	_, err := e.Extract(context.Background(), Document{Ref: "a.pdf", Data: []byte("%PDF")})
	require.NoError(t, err)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files must be removed")
}
