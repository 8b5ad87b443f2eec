package logs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

const maxLineBytes = 1024 * 1024

// TailResult holds the lines read and the offset to continue from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail returns the last limit complete lines of path. A missing file yields
// no lines and offset zero.
func Tail(path string, limit int) (TailResult, error) {
	var result TailResult

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return result, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}
	if limit <= 0 {
		result.Offset = info.Size()
		return result, nil
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	ring := make([]string, limit)
	count := 0
	idx := 0
	var consumed int64
	for scanner.Scan() {
		ring[idx] = scanner.Text()
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
		consumed += int64(len(scanner.Bytes())) + 1
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("read log file: %w", err)
	}

	result.Lines = make([]string, count)
	if count == limit {
		for i := 0; i < count; i++ {
			result.Lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(result.Lines, ring[:count])
	}
	result.Offset = min(consumed, info.Size())
	return result, nil
}

// ReadFrom returns the complete lines written after offset. A trailing
// partial line is left for the next call. When the file shrank below offset
// it was rotated or truncated and reading restarts at zero.
func ReadFrom(path string, offset int64) (TailResult, error) {
	result := TailResult{Offset: offset}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return result, fmt.Errorf("seek log file: %w", err)
	}

	data, err := io.ReadAll(io.LimitReader(file, info.Size()-offset))
	if err != nil {
		return result, fmt.Errorf("read log file: %w", err)
	}
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		result.Offset = offset
		return result, nil
	}
	for _, line := range bytes.Split(data[:end], []byte{'\n'}) {
		result.Lines = append(result.Lines, string(line))
	}
	result.Offset = offset + int64(end) + 1
	return result, nil
}

// Follow calls fn for every complete line appended to path after offset until
// ctx is cancelled.
func Follow(ctx context.Context, path string, offset int64, fn func(string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create log watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch log directory %q: %w", dir, err)
	}

	drain := func() error {
		result, err := ReadFrom(path, offset)
		if err != nil {
			return err
		}
		for _, line := range result.Lines {
			fn(line)
		}
		offset = result.Offset
		return nil
	}

	if err := drain(); err != nil {
		return err
	}
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Create) {
				offset = 0
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := drain(); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("log watcher: %w", err)
		}
	}
}
