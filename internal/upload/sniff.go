package upload

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrExecutableFile = errors.New("executable files are not allowed")
	ErrDisallowedType = errors.New("disallowed mime type")
)

// Class selects how an asset's content is checked before it is relayed.
type Class string

const (
	ClassImage Class = "image"
	ClassRaw   Class = "raw"
	ClassAuto  Class = "auto"
)

func (c Class) Valid() bool {
	switch c {
	case ClassImage, ClassRaw, ClassAuto:
		return true
	default:
		return false
	}
}

// classify sniffs data and returns the content type to store it under.
// declared is used only when sniffing finds nothing more specific.
func classify(class Class, data []byte, declared string) (string, error) {
	sniff := data
	if len(sniff) > 512 {
		sniff = sniff[:512]
	}

	if isExecutableSignature(sniff) {
		return "", ErrExecutableFile
	}

	mimeType := detectMimeType(sniff)
	if mimeType == "application/octet-stream" || mimeType == "text/plain" {
		if d := trimMimeParams(declared); d != "" {
			mimeType = strings.ToLower(d)
		}
	}

	if _, blocked := disallowedMimeTypes[mimeType]; blocked {
		return "", ErrDisallowedType
	}
	if class == ClassImage && !strings.HasPrefix(mimeType, "image/") {
		return "", ErrDisallowedType
	}

	return mimeType, nil
}

var disallowedMimeTypes = map[string]struct{}{
	"image/svg+xml":               {},
	"text/html":                   {},
	"application/xhtml+xml":       {},
	"application/javascript":      {},
	"text/javascript":             {},
	"application/x-javascript":    {},
	"text/ecmascript":             {},
	"application/ecmascript":      {},
	"application/x-httpd-php":     {},
	"application/x-sh":            {},
	"application/x-msdownload":    {},
	"application/x-msdos-program": {},
}

func detectMimeType(sniff []byte) string {
	if len(sniff) == 0 {
		return "application/octet-stream"
	}
	return trimMimeParams(http.DetectContentType(sniff))
}

func isExecutableSignature(sniff []byte) bool {
	if len(sniff) < 2 {
		return false
	}

	if sniff[0] == 'M' && sniff[1] == 'Z' {
		return true // PE/COFF (Windows)
	}
	if len(sniff) >= 4 {
		if bytes.Equal(sniff[:4], []byte{0x7f, 'E', 'L', 'F'}) {
			return true
		}
		for _, magic := range machoMagics {
			if bytes.Equal(sniff[:4], magic) {
				return true
			}
		}
	}

	if sniff[0] == '#' && sniff[1] == '!' {
		return true // shebang scripts
	}

	return false
}

var machoMagics = [][]byte{
	{0xfe, 0xed, 0xfa, 0xce},
	{0xce, 0xfa, 0xed, 0xfe},
	{0xfe, 0xed, 0xfa, 0xcf},
	{0xcf, 0xfa, 0xed, 0xfe},
	{0xca, 0xfe, 0xba, 0xbe},
	{0xbe, 0xba, 0xfe, 0xca},
	{0xca, 0xfe, 0xba, 0xbf},
	{0xbf, 0xba, 0xfe, 0xca},
}

func trimMimeParams(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		return strings.TrimSpace(contentType[:idx])
	}
	return strings.TrimSpace(contentType)
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	case "application/zip":
		return ".zip"
	case "text/plain":
		return ".txt"
	default:
		return ""
	}
}
