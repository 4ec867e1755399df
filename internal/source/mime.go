package source

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

const (
	MIMEPDF  = "application/pdf"
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
	MIMEJPG  = "image/jpg"
)

// SupportedMIME lists the content types that can be ingested.
var SupportedMIME = map[string]Kind{
	MIMEPDF:  KindDocument,
	MIMEPNG:  KindImage,
	MIMEJPEG: KindImage,
	MIMEJPG:  KindImage,
}

// KindForMIME returns the source kind for a content type.
func KindForMIME(mimeType string) (Kind, bool) {
	k, ok := SupportedMIME[normalizeMIME(mimeType)]
	return k, ok
}

// DetectMIME picks the content type for an upload. A declared type wins
// unless it is missing or generic, then the extension, then sniffing.
func DetectMIME(filename, declared string, data []byte) string {
	if m := normalizeMIME(declared); m != "" && m != "application/octet-stream" {
		return m
	}
	if m := normalizeMIME(mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))); m != "" {
		return m
	}
	return normalizeMIME(http.DetectContentType(data))
}

func normalizeMIME(m string) string {
	if m == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(m); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(m))
}
