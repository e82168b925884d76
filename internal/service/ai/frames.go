package ai

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const dataPrefix = "data:"

// frameReader splits a server-sent event stream into frames. A frame ends at
// a blank line; only its data lines are kept.
type frameReader struct {
	reader *bufio.Reader
	done   bool
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{reader: bufio.NewReader(r)}
}

// Next returns the data payloads of the next frame that has any. It returns
// io.EOF once the stream is exhausted; a trailing frame without the closing
// blank line is still returned first.
func (f *frameReader) Next() ([]string, error) {
	if f.done {
		return nil, io.EOF
	}

	var data []string
	for {
		line, err := f.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		eof := err != nil

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if len(data) > 0 {
				if eof {
					f.done = true
				}
				return data, nil
			}
		case strings.HasPrefix(line, dataPrefix):
			if payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix)); payload != "" {
				data = append(data, payload)
			}
		}

		if eof {
			f.done = true
			if len(data) > 0 {
				return data, nil
			}
			return nil, io.EOF
		}
	}
}
