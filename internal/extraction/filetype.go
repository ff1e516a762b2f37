// Package extraction runs documents through the text extraction pipeline:
// file type sniffing, the PDF text-or-raster ladder, multi-pass OCR for
// images, and the region-of-interest fallback for weak totals.
package extraction

import (
	"bytes"
	"path/filepath"
	"strings"
)

// FileType is the detected document kind.
type FileType string

const (
	FileTypePDF     FileType = "pdf"
	FileTypeJPEG    FileType = "jpeg"
	FileTypePNG     FileType = "png"
	FileTypeGIF     FileType = "gif"
	FileTypeBMP     FileType = "bmp"
	FileTypeTIFF    FileType = "tiff"
	FileTypeWEBP    FileType = "webp"
	FileTypeHEIC    FileType = "heic"
	FileTypeText    FileType = "text"
	FileTypeUnknown FileType = "unknown"
)

// IsImage reports whether the type goes straight to the OCR engine.
func (t FileType) IsImage() bool {
	switch t {
	case FileTypeJPEG, FileTypePNG, FileTypeGIF, FileTypeBMP, FileTypeTIFF, FileTypeWEBP, FileTypeHEIC:
		return true
	}
	return false
}

// DetectFileType sniffs the content first and falls back to the declared
// MIME type and then the filename extension. Content wins because email
// attachments routinely arrive as application/octet-stream.
func DetectFileType(data []byte, contentType, filename string) FileType {
	if t := sniffMagic(data); t != FileTypeUnknown {
		return t
	}
	if t := fromContentType(contentType); t != FileTypeUnknown {
		return t
	}
	if t := fromExtension(filename); t != FileTypeUnknown {
		return t
	}
	if looksLikeText(data) {
		return FileTypeText
	}
	return FileTypeUnknown
}

func sniffMagic(data []byte) FileType {
	switch {
	case len(data) >= 5 && bytes.HasPrefix(data, []byte("%PDF-")):
		return FileTypePDF
	case len(data) >= 3 && bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return FileTypeJPEG
	case len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return FileTypePNG
	case len(data) >= 6 && (bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a"))):
		return FileTypeGIF
	case len(data) >= 2 && bytes.HasPrefix(data, []byte("BM")):
		return FileTypeBMP
	case len(data) >= 4 && (bytes.HasPrefix(data, []byte{'I', 'I', 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{'M', 'M', 0x00, 0x2A})):
		return FileTypeTIFF
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FileTypeWEBP
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) && isHEICBrand(data[8:12]):
		return FileTypeHEIC
	}
	return FileTypeUnknown
}

func isHEICBrand(brand []byte) bool {
	switch string(brand) {
	case "heic", "heix", "hevc", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func fromContentType(contentType string) FileType {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "application/pdf":
		return FileTypePDF
	case "image/jpeg", "image/jpg":
		return FileTypeJPEG
	case "image/png":
		return FileTypePNG
	case "image/gif":
		return FileTypeGIF
	case "image/bmp":
		return FileTypeBMP
	case "image/tiff":
		return FileTypeTIFF
	case "image/webp":
		return FileTypeWEBP
	case "image/heic", "image/heif":
		return FileTypeHEIC
	case "text/plain":
		return FileTypeText
	}
	return FileTypeUnknown
}

func fromExtension(filename string) FileType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FileTypePDF
	case ".jpg", ".jpeg":
		return FileTypeJPEG
	case ".png":
		return FileTypePNG
	case ".gif":
		return FileTypeGIF
	case ".bmp":
		return FileTypeBMP
	case ".tif", ".tiff":
		return FileTypeTIFF
	case ".webp":
		return FileTypeWEBP
	case ".heic", ".heif":
		return FileTypeHEIC
	case ".txt":
		return FileTypeText
	}
	return FileTypeUnknown
}

// looksLikeText accepts content whose first kilobyte is at least 85%
// printable ASCII.
func looksLikeText(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sample := data
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	printable := 0
	for _, b := range sample {
		if b == '\n' || b == '\r' || b == '\t' || (b >= 0x20 && b < 0x7F) {
			printable++
		}
	}
	return float64(printable)/float64(len(sample)) >= 0.85
}
