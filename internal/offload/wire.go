package offload

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// Frames are newline-delimited JSON objects. JSON escapes embedded newlines,
// so one frame is always exactly one line.
const frameDelimiter = '\n'

// Request is the frame sent to a worker.
type Request struct {
	ID         uint64 `json:"id"`
	Generation uint64 `json:"generation"`
	Kind       Kind   `json:"kind"`
	Payload    string `json:"payload"`
}

// Response is the frame a worker sends back. Unserializable marks a job
// whose request or result could not cross the boundary; Error then carries
// the codec failure rather than a handler error.
type Response struct {
	ID             uint64 `json:"id"`
	Value          string `json:"value,omitempty"`
	Error          string `json:"error,omitempty"`
	Unserializable bool   `json:"unserializable,omitempty"`
}

// EncodeRequest serializes a request. Payloads must be valid UTF-8 since
// JSON strings cannot carry arbitrary bytes.
func EncodeRequest(req Request) ([]byte, error) {
	if !utf8.ValidString(req.Payload) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrSerialization)
	}

	frame, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	return frame, nil
}

// DecodeRequest parses a request frame.
func DecodeRequest(frame []byte) (Request, error) {
	var req Request

	err := json.Unmarshal(frame, &req)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	return req, nil
}

// EncodeResponse serializes a response. Handler output that is not valid
// UTF-8 is reported as a serialization failure.
func EncodeResponse(resp Response) ([]byte, error) {
	if !utf8.ValidString(resp.Value) {
		return nil, fmt.Errorf("%w: value is not valid UTF-8", ErrSerialization)
	}

	frame, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	return frame, nil
}

// DecodeResponse parses a response frame.
func DecodeResponse(frame []byte) (Response, error) {
	var resp Response

	err := json.Unmarshal(frame, &resp)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	return resp, nil
}

// unserializable builds the response for a codec failure on the worker side.
func unserializable(id uint64, err error) Response {
	return Response{ID: id, Error: err.Error(), Unserializable: true}
}

// runHandler executes one decoded request against handlers and builds the
// response. Handler errors travel back as text.
func runHandler(ctx context.Context, handlers Handlers, req Request) Response {
	resp := Response{ID: req.ID}

	handler, ok := handlers[req.Kind]
	if !ok {
		resp.Error = fmt.Sprintf("%v: %q", ErrUnknownKind, req.Kind)

		return resp
	}

	value, err := handler(ctx, req.Payload)
	if err != nil {
		resp.Error = err.Error()

		return resp
	}

	resp.Value = value

	return resp
}

// ServeWorker runs the worker side of the protocol: it reads request frames
// from r, runs them one at a time, and writes response frames to w. It
// returns nil when r reaches EOF.
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer, handlers Handlers) error {
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)

	for {
		line, readErr := reader.ReadBytes(frameDelimiter)
		if len(line) > 1 {
			serveErr := serveFrame(ctx, writer, handlers, line)
			if serveErr != nil {
				return serveErr
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}

			return fmt.Errorf("read request: %w", readErr)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func serveFrame(ctx context.Context, writer *bufio.Writer, handlers Handlers, line []byte) error {
	var resp Response

	req, decodeErr := DecodeRequest(line)
	if decodeErr != nil {
		resp = unserializable(0, decodeErr)
	} else {
		resp = runHandler(ctx, handlers, req)
	}

	frame, encodeErr := EncodeResponse(resp)
	if encodeErr != nil {
		frame, encodeErr = EncodeResponse(unserializable(resp.ID, encodeErr))
		if encodeErr != nil {
			return fmt.Errorf("encode response: %w", encodeErr)
		}
	}

	_, writeErr := writer.Write(append(frame, frameDelimiter))
	if writeErr != nil {
		return fmt.Errorf("write response: %w", writeErr)
	}

	flushErr := writer.Flush()
	if flushErr != nil {
		return fmt.Errorf("flush response: %w", flushErr)
	}

	return nil
}
