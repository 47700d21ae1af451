package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"pkt.systems/jpact"
)

const smallJSONThreshold = 2048

// CompactWriter streams JSON from r to w, stripping insignificant whitespace.
// maxBytes limits the number of bytes read from r (<=0 disables the limit).
// Small payloads that already contain no whitespace are written through
// untouched instead of being re-encoded.
func CompactWriter(w io.Writer, r io.Reader, maxBytes int64) error {
	threshold := smallJSONThreshold
	if maxBytes > 0 && maxBytes < int64(threshold) {
		threshold = int(maxBytes)
	}
	if threshold <= 0 {
		return jpact.CompactWriter(w, r, maxBytes)
	}

	limit := threshold + 1
	var stack [smallJSONThreshold + 1]byte
	buf := stack[:limit]
	total := 0
	sawSpace := false

	for total < limit {
		n, err := r.Read(buf[total:limit])
		if n > 0 && !sawSpace {
		scan:
			for _, b := range buf[total : total+n] {
				switch b {
				case ' ', '\n', '\t', '\r':
					sawSpace = true
					break scan
				}
			}
		}
		total += n
		if maxBytes > 0 && int64(total) > maxBytes {
			return fmt.Errorf("json: payload exceeds %d bytes", maxBytes)
		}
		if err != nil {
			if err != io.EOF {
				return err
			}
			if total > threshold {
				break
			}
			payload := buf[:total]
			if !json.Valid(payload) {
				return fmt.Errorf("json: invalid input")
			}
			if !sawSpace {
				_, err = w.Write(payload)
				return err
			}
			return jpact.CompactWriter(w, bytes.NewReader(payload), maxBytes)
		}
	}

	head := make([]byte, total)
	copy(head, buf[:total])
	return jpact.CompactWriter(w, io.MultiReader(bytes.NewReader(head), r), maxBytes)
}

// CompactToBuffer returns the compacted JSON payload in memory.
func CompactToBuffer(r io.Reader, maxBytes int64) ([]byte, error) {
	var buf bytes.Buffer
	if err := CompactWriter(&buf, r, maxBytes); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Pretty re-indents data for human consumption. The bool reports whether
// data parsed as JSON; callers keep the raw payload when it did not.
func Pretty(data []byte) (string, bool) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return "", false
	}
	return buf.String(), true
}
