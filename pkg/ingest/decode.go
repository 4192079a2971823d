package ingest

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// DecodeText converts a raw payload to UTF-8 according to the encoding a
// source declares (e.g. "windows-1252", "iso-8859-1"). Empty or UTF-8
// declarations pass the bytes through unchanged.
func DecodeText(raw []byte, encoding string) (string, error) {
	if isUTF8(encoding) {
		return string(raw), nil
	}
	e, err := htmlindex.Get(encoding)
	if err != nil {
		return "", fmt.Errorf("unsupported encoding %q: %w", encoding, err)
	}
	out, err := e.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", encoding, err)
	}
	return string(out), nil
}

func isUTF8(enc string) bool {
	e := strings.ToLower(strings.ReplaceAll(enc, "-", ""))
	return e == "utf8" || e == ""
}
