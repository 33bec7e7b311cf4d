package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// GenesisHash is the prev_hash of the first entry in a new log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// HashLine returns "sha256:<hex>" of line.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// lineError pins a chain failure to a 1-based line number.
type lineError struct {
	line int
	err  error
}

func (e *lineError) Error() string { return fmt.Sprintf("line %d: %v", e.line, e.err) }
func (e *lineError) Unwrap() error { return e.err }

// walk streams the log at path. For every line, visit receives the line
// number, the raw bytes and the prev_hash that line must carry. It returns
// the hash a following entry must carry and the number of lines read. A
// missing file is an empty chain.
func walk(path string, visit func(n int, line []byte, want string) error) (head string, n int, err error) {
	head = GenesisHash
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return head, 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	err = eachLine(f, func(line []byte) error {
		n++
		if visit != nil {
			if err := visit(n, line, head); err != nil {
				return &lineError{line: n, err: err}
			}
		}
		head = HashLine(line)
		return nil
	})
	if err != nil {
		return "", n, err
	}
	return head, n, nil
}

// eachLine calls fn for every line of r with the trailing "\n" or "\r\n"
// removed. Lines have no length limit. fn must not retain line.
func eachLine(r io.Reader, fn func(line []byte) error) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimSuffix(line, []byte{'\n'})
			line = bytes.TrimSuffix(line, []byte{'\r'})
			if ferr := fn(line); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
