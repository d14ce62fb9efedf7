package transport

import (
	"bytes"
	"fmt"
	"strings"
)

// tcp framing: every frame is one newline terminated line whose first byte says
// whether more frames of the same message follow
const (
	flagMore = '+'
	flagLast = '.'

	MaxFrameSize        = 64 * 1024 // 64KB max frame size
	maxFramesPerMessage = 8
)

// control lines sent by subscribers
const (
	cmdSubscribe   = "SUB"
	cmdUnsubscribe = "UNSUB"
)

func appendMessage(dst []byte, frames [][]byte) ([]byte, error) {
	if len(frames) == 0 || len(frames) > maxFramesPerMessage {
		return dst, fmt.Errorf("%w: %d frames", ErrInvalidFrame, len(frames))
	}
	for i, f := range frames {
		if len(f) > MaxFrameSize {
			return dst, fmt.Errorf("%w: frame of %d bytes", ErrInvalidFrame, len(f))
		}
		if bytes.IndexByte(f, '\n') >= 0 {
			return dst, fmt.Errorf("%w: frame contains a newline", ErrInvalidFrame)
		}
		flag := byte(flagMore)
		if i == len(frames)-1 {
			flag = flagLast
		}
		dst = append(dst, flag)
		dst = append(dst, f...)
		dst = append(dst, '\n')
	}
	return dst, nil
}

// parseFrameLine strips the terminator and the flag byte. A line without a known
// flag is taken as a complete single frame so plain "topic value" producers work.
func parseFrameLine(line []byte) (payload []byte, more bool) {
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) == 0 {
		return line, false
	}
	switch line[0] {
	case flagMore:
		return line[1:], true
	case flagLast:
		return line[1:], false
	default:
		return line, false
	}
}

func controlLine(cmd, prefix string) []byte {
	return []byte(cmd + " " + prefix + "\n")
}

// parseControl reads "SUB <prefix>" / "UNSUB <prefix>"; the prefix may be empty
func parseControl(line []byte) (cmd, prefix string, ok bool) {
	s := strings.TrimRight(string(line), "\r\n")
	cmd, prefix, _ = strings.Cut(s, " ")
	switch cmd {
	case cmdSubscribe, cmdUnsubscribe:
		return cmd, prefix, true
	default:
		return "", "", false
	}
}
