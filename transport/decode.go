package transport

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/superglue-ai/superglue-go/core"
)

// htmlSniffLimit bounds how much of a payload the HTML detector reads.
const htmlSniffLimit = 1024

// Decode turns raw response bytes into a normalized value using the
// content-type hint and byte-level sniffing. It never fails: unknown
// binary content is returned as the original bytes, which satisfies the
// decoder contract while keeping the happy paths (JSON, CSV, compressed
// payloads, text) fully parsed.
func Decode(b []byte, hint string) interface{} {
	if len(b) == 0 {
		return nil
	}
	hint = strings.ToLower(hint)

	// Transparent decompression before any format sniffing.
	if isGzip(b) {
		if inflated, err := gunzip(b); err == nil {
			return Decode(inflated, hint)
		}
		return b
	}
	if isZlib(b) {
		if inflated, err := inflate(b); err == nil {
			return Decode(inflated, hint)
		}
		return b
	}

	if strings.Contains(hint, "csv") {
		if rows, err := decodeCSV(b); err == nil {
			return rows
		}
	}

	if v, ok := core.ParseJSON(b); ok {
		return v
	}

	if utf8.Valid(b) {
		return string(b)
	}
	return b
}

// LooksLikeHTML reports whether the payload starts with an HTML document
// marker. Only the first kilobyte is examined, trimmed and lowercased.
func LooksLikeHTML(b []byte) bool {
	prefix := b
	if len(prefix) > htmlSniffLimit {
		prefix = prefix[:htmlSniffLimit]
	}
	s := strings.ToLower(strings.TrimSpace(string(prefix)))
	return strings.HasPrefix(s, "<!doctype html") || strings.HasPrefix(s, "<html")
}

func isGzip(b []byte) bool {
	return len(b) > 2 && b[0] == 0x1f && b[1] == 0x8b
}

func isZlib(b []byte) bool {
	return len(b) > 2 && b[0] == 0x78 && (b[1] == 0x01 || b[1] == 0x5e || b[1] == 0x9c || b[1] == 0xda)
}

func gunzip(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func inflate(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// decodeCSV parses a CSV document with a header row into row objects.
func decodeCSV(b []byte) ([]interface{}, error) {
	reader := csv.NewReader(bytes.NewReader(b))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []interface{}{}, nil
	}
	header := records[0]
	rows := make([]interface{}, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
