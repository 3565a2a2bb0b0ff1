package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/seantiz/gridrelay/internal/model"
)

// maxEventSize bounds a single server-sent event.
const maxEventSize = 1 << 20

// ResultStream yields the results of one task in order.
type ResultStream interface {
	// Recv returns the next result, or io.EOF once the stream ended.
	Recv() (model.TaskResult, error)
	Close() error
}

// eventStream parses a text/event-stream body into task results. Only the
// data field is interpreted; event names, ids and comments are skipped.
type eventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	closeOnce sync.Once
	closeErr  error
}

func newEventStream(body io.ReadCloser) *eventStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 4096), maxEventSize)
	return &eventStream{body: body, scanner: sc}
}

func (s *eventStream) Recv() (model.TaskResult, error) {
	var data bytes.Buffer
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			if data.Len() == 0 {
				continue
			}
			return decodeResult(data.Bytes())
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		if string(field) != "data" {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		if data.Len() > 0 {
			data.WriteByte('\n')
		}
		data.Write(value)
	}

	if err := s.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return model.TaskResult{}, fmt.Errorf("%w: result event too large", ErrProtocol)
		}
		return model.TaskResult{}, fmt.Errorf("%w: read result stream: %w", ErrUnavailable, err)
	}
	if data.Len() > 0 {
		return model.TaskResult{}, fmt.Errorf("%w: truncated result event", ErrProtocol)
	}
	return model.TaskResult{}, io.EOF
}

func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

func decodeResult(data []byte) (model.TaskResult, error) {
	var res model.TaskResult
	if err := json.Unmarshal(data, &res); err != nil {
		return model.TaskResult{}, fmt.Errorf("%w: decode result event: %v", ErrProtocol, err)
	}
	if res.TaskID == "" || res.Status == "" {
		return model.TaskResult{}, fmt.Errorf("%w: result event without task id or status", ErrProtocol)
	}
	return res, nil
}
