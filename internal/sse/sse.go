// Package sse implements the two streaming-forwarder modes: byte-for-byte
// SSE passthrough with teeing, and JSON-to-SSE synthesis for upstreams that
// can't stream directly.
package sse

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
)

// WriteEvent writes one SSE "data:" frame, terminated by a blank line, per
// the wire format both passthrough and synthesis rely on.
func WriteEvent(w io.Writer, data []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}

// WriteDone writes the terminal "[DONE]" sentinel event.
func WriteDone(w io.Writer) error {
	_, err := io.WriteString(w, "data: [DONE]\n\n")
	return err
}

const passthroughBufSize = 32 * 1024

// CopyPassthrough copies bytes from upstream to dst unmodified, flushing
// after every read so streamed chunks reach the client promptly, and tees
// each chunk into sinks (e.g. a bounded CaptureBuffer for RequestLog, the
// UsageParser accumulator). It stops early if ctx is cancelled, which
// happens when the client disconnects mid-stream.
func CopyPassthrough(ctx context.Context, dst io.Writer, upstream io.Reader, sinks ...io.Writer) (int64, error) {
	flusher, _ := dst.(http.Flusher)
	buf := make([]byte, passthroughBufSize)
	var total int64

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		n, rerr := upstream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := dst.Write(chunk); werr != nil {
				return total, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
			for _, sink := range sinks {
				_, _ = sink.Write(chunk)
			}
			total += int64(n)
		}
		if rerr != nil {
			if rerr == io.EOF {
				return total, nil
			}
			return total, rerr
		}
	}
}

// ScanEvents splits an SSE byte stream into raw event blocks (the text
// between blank-line separators), handing each to fn. It stops on the first
// error fn returns.
func ScanEvents(r io.Reader, fn func(block []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	scanner.Split(splitOnBlankLine)
	for scanner.Scan() {
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func splitOnBlankLine(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i+1 < len(data); i++ {
		if data[i] == '\n' && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
