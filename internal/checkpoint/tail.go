package checkpoint

import (
	"bytes"
	"fmt"
	"io"
)

// tailLines returns up to want trailing non-blank lines of r, oldest first.
// It reads backward from size in chunk-sized steps and stops as soon as the
// accumulated tail holds want lines whose start is known, so large logs are
// never loaded whole. Trailing whitespace, including a final newline, is ignored.
func tailLines(r io.ReaderAt, size int64, chunk int, want int) ([][]byte, error) {
	var (
		buf []byte
		pos = size
	)
	for pos > 0 {
		step := int64(chunk)
		if step > pos {
			step = pos
		}
		pos -= step
		block := make([]byte, step)
		if _, err := r.ReadAt(block, pos); err != nil && err != io.EOF {
			return nil, fmt.Errorf("read at %d: %w", pos, err)
		}
		buf = append(block, buf...)

		trimmed := bytes.TrimRight(buf, " \t\r\n")
		if len(trimmed) == 0 {
			continue
		}
		if lines := boundedLines(trimmed, pos == 0); len(lines) >= want {
			return lines[len(lines)-want:], nil
		}
	}
	return boundedLines(bytes.TrimRight(buf, " \t\r\n"), true), nil
}

// boundedLines splits tail into non-blank lines. Unless atStart is set the
// first segment may be the end of a longer line and is dropped.
func boundedLines(tail []byte, atStart bool) [][]byte {
	segments := bytes.Split(tail, []byte{'\n'})
	if !atStart {
		segments = segments[1:]
	}
	lines := make([][]byte, 0, len(segments))
	for _, seg := range segments {
		seg = bytes.TrimRight(seg, " \t\r")
		if len(seg) == 0 {
			continue
		}
		lines = append(lines, seg)
	}
	return lines
}
