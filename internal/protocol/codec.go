package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Format builds a request line from a word and its fields.
func Format(word string, fields ...string) string {
	if len(fields) == 0 {
		return word
	}
	return word + Separator + strings.Join(fields, Separator)
}

// Parse splits raw into a command word and colon separated fields.
// Surrounding whitespace is ignored for the word and fields.
func Parse(raw []byte) (Request, error) {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return Request{}, fmt.Errorf("empty request: %w", ErrMalformed)
	}
	parts := strings.Split(line, Separator)
	return Request{
		Word:   parts[0],
		Fields: parts[1:],
		Raw:    raw,
	}, nil
}

// ParseRegister validates `register:<host>:<port>`.
func ParseRegister(req Request) (string, int, error) {
	if len(req.Fields) < 2 || strings.TrimSpace(req.Fields[0]) == "" || strings.TrimSpace(req.Fields[1]) == "" {
		return "", 0, fmt.Errorf("register requires host and port (register:<host>:<port>): %w", ErrMalformed)
	}
	host := strings.TrimSpace(req.Fields[0])
	port, err := strconv.Atoi(strings.TrimSpace(req.Fields[1]))
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("register: invalid port %q: %w", req.Fields[1], ErrMalformed)
	}
	return host, port, nil
}

// ParseDispatch validates `dispatch:<commit_id>`.
func ParseDispatch(req Request) (string, error) {
	if len(req.Fields) < 1 || strings.TrimSpace(req.Fields[0]) == "" {
		return "", fmt.Errorf("dispatch requires a commit id (dispatch:<commit_id>): %w", ErrMalformed)
	}
	return strings.TrimSpace(req.Fields[0]), nil
}

// ParseResults decodes `results:<commit_id>:<byte_length>:<payload>` from
// the raw request. Payload bytes beyond the declared length are dropped.
func ParseResults(req Request, maxPayload int) (Results, error) {
	parts := bytes.SplitN(req.Raw, []byte(Separator), 4)
	if len(parts) < 3 {
		return Results{}, fmt.Errorf("results requires commit id, length and payload (results:<commit_id>:<length>:<payload>): %w", ErrMalformed)
	}

	commitID := strings.TrimSpace(string(parts[1]))
	if commitID == "" {
		return Results{}, fmt.Errorf("results: empty commit id: %w", ErrMalformed)
	}
	length, err := strconv.Atoi(strings.TrimSpace(string(parts[2])))
	if err != nil || length < 0 {
		return Results{}, fmt.Errorf("results: invalid length %q: %w", parts[2], ErrMalformed)
	}
	if len(parts) == 3 {
		// Only an empty payload may omit the trailing separator.
		if length != 0 {
			return Results{}, fmt.Errorf("results: missing payload separator after length %d: %w", length, ErrMalformed)
		}
		return Results{CommitID: commitID}, nil
	}
	if maxPayload > 0 && length > maxPayload {
		return Results{}, fmt.Errorf("results: declared %d bytes, limit %d: %w", length, maxPayload, ErrPayloadTooLarge)
	}

	payload := parts[3]
	if len(payload) > length {
		payload = payload[:length]
	}
	return Results{
		CommitID: commitID,
		Length:   length,
		Payload:  bytes.Clone(payload),
	}, nil
}

// ReadResultsHeader extends raw, the first read of a results request, until
// it holds the whole `results:<commit_id>:<length>:` header. The header must
// fit in RequestBufferSize bytes; EOF or an oversized header return what was
// read so ParseResults reports it.
func ReadResultsHeader(r io.Reader, raw []byte) ([]byte, error) {
	for !resultsHeaderComplete(raw) && len(raw) < RequestBufferSize {
		chunk := make([]byte, RequestBufferSize-len(raw))
		n, err := r.Read(chunk)
		raw = append(raw, chunk[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read results header (%d bytes): %w", len(raw), err)
		}
	}
	return raw, nil
}

func resultsHeaderComplete(raw []byte) bool {
	parts := bytes.SplitN(raw, []byte(Separator), 4)
	switch len(parts) {
	case 4:
		return true
	case 3:
		return strings.TrimSpace(string(parts[2])) == "0"
	default:
		return false
	}
}

// ReadRequest performs the single bounded read every connection starts with.
func ReadRequest(r io.Reader) ([]byte, error) {
	buf := make([]byte, RequestBufferSize)
	n, err := r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return nil, err
}

// ReadPayload completes a results payload. It keeps reading from r in
// RequestBufferSize chunks until res.Length bytes are collected.
func ReadPayload(r io.Reader, res Results) ([]byte, error) {
	if len(res.Payload) >= res.Length {
		return res.Payload[:res.Length], nil
	}

	out := make([]byte, res.Length)
	have := copy(out, res.Payload)
	for have < res.Length {
		end := min(have+RequestBufferSize, res.Length)
		n, err := r.Read(out[have:end])
		have += n
		if err != nil {
			if err == io.EOF && have == res.Length {
				break
			}
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("read payload (%d of %d bytes): %w", have, res.Length, err)
		}
	}
	return out, nil
}
