// Package wire frames messages on a byte stream. Every message is one
// line: a JSON document or a lookup command followed by '\n'.
package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Delimiter ends every frame
const Delimiter = '\n'

// DefaultMaxFrame bounds a single frame when the caller has no limit
const DefaultMaxFrame = 64 << 10

// ErrFrameTooLarge is returned when a frame exceeds the configured maximum
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ReadFrame returns the next non-empty frame without its delimiter. A
// trailing frame cut short by EOF is returned as is; the following call
// returns io.EOF.
func ReadFrame(r *bufio.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxFrame
	}
	for {
		var buf []byte
		for {
			chunk, err := r.ReadSlice(Delimiter)
			if len(buf)+len(chunk) > max+1 {
				return nil, ErrFrameTooLarge
			}
			buf = append(buf, chunk...)
			if err == nil {
				break
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			if errors.Is(err, io.EOF) {
				if frame := bytes.TrimSpace(buf); len(frame) > 0 {
					if len(frame) > max {
						return nil, ErrFrameTooLarge
					}
					return frame, nil
				}
			}
			return nil, err
		}
		frame := bytes.TrimSpace(buf)
		if len(frame) > max {
			return nil, ErrFrameTooLarge
		}
		if len(frame) > 0 {
			return frame, nil
		}
	}
}

// WriteFrame writes payload followed by the delimiter in a single call
func WriteFrame(w io.Writer, payload []byte) error {
	if bytes.IndexByte(payload, Delimiter) >= 0 {
		return fmt.Errorf("payload contains the frame delimiter")
	}
	msg := make([]byte, 0, len(payload)+1)
	msg = append(msg, payload...)
	msg = append(msg, Delimiter)
	_, err := w.Write(msg)
	return err
}

// WriteJSON encodes v and writes it as one frame
func WriteJSON(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return WriteFrame(w, payload)
}
