package tools

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultMonitorTimeout is how long monitor_file waits when no timeout is given.
const DefaultMonitorTimeout = 60 * time.Second

const maxMonitorTimeout = 30 * time.Minute

// MonitorFileTool waits for a keyword to appear in lines appended to a file.
type MonitorFileTool struct {
	Guard *Guard
}

func (t *MonitorFileTool) Name() string { return "monitor_file" }
func (t *MonitorFileTool) Tier() int    { return TierReadOnly }

func (t *MonitorFileTool) Description() string {
	return "Watch a file for newly appended lines containing a keyword, until found or the timeout expires."
}

func (t *MonitorFileTool) Schema() Schema {
	return Object(
		Required("path", TypeString, "The file to watch"),
		Required("keyword", TypeString, "Text to look for in new lines"),
		Optional("timeout_seconds", TypeInteger, "How long to watch (default 60)"),
	)
}

type monitorArgs struct {
	Path    string `arg:"path"`
	Keyword string `arg:"keyword"`
	Timeout int    `arg:"timeout_seconds"`
}

// MonitorResult is the payload of monitor_file.
type MonitorResult struct {
	Found   bool   `json:"found"`
	Line    string `json:"line,omitempty"`
	Message string `json:"message"`
}

func (t *MonitorFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	var args monitorArgs
	if err := DecodeArgs(params, &args); err != nil {
		return "", err
	}
	if args.Keyword == "" {
		return "", Fail(ReasonCapability, "keyword is required")
	}
	path := expandPath(args.Path)
	if err := t.Guard.CheckPath(path); err != nil {
		return "", err
	}
	timeout := time.Duration(args.Timeout) * time.Second
	if timeout <= 0 {
		timeout = DefaultMonitorTimeout
	}
	if timeout > maxMonitorTimeout {
		timeout = maxMonitorTimeout
	}

	res, err := watchForKeyword(ctx, path, args.Keyword, timeout)
	if err != nil {
		return "", err
	}
	return toJSON(res)
}

func watchForKeyword(ctx context.Context, path, keyword string, timeout time.Duration) (MonitorResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return MonitorResult{}, classifyFSError(err, path)
	}
	defer f.Close()

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return MonitorResult{}, Wrap(ReasonCapability, err, "seek %s", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return MonitorResult{}, Wrap(ReasonCapability, err, "create watcher")
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return MonitorResult{}, Wrap(ReasonCapability, err, "watch %s", path)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var pending string
	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return MonitorResult{
					Message: fmt.Sprintf("Timeout reached. Keyword %q not found in %s within %v.", keyword, path, timeout),
				}, nil
			}
			return MonitorResult{}, Wrap(ReasonCapability, ctx.Err(), "monitoring cancelled")

		case event, ok := <-watcher.Events:
			if !ok {
				return MonitorResult{}, Fail(ReasonCapability, "watcher closed")
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return MonitorResult{}, Fail(ReasonCapability, "%s was removed while being monitored", path)
			}
			if event.Op&fsnotify.Write == 0 {
				continue
			}
			info, err := f.Stat()
			if err != nil {
				return MonitorResult{}, classifyFSError(err, path)
			}
			if info.Size() < offset {
				offset = 0
				pending = ""
			}
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				return MonitorResult{}, Wrap(ReasonCapability, err, "seek %s", path)
			}
			chunk, err := io.ReadAll(f)
			if err != nil {
				return MonitorResult{}, classifyFSError(err, path)
			}
			offset += int64(len(chunk))

			text := pending + string(chunk)
			pending = ""
			sc := bufio.NewScanner(strings.NewReader(text))
			for sc.Scan() {
				line := sc.Text()
				if strings.Contains(line, keyword) {
					return MonitorResult{
						Found:   true,
						Line:    strings.TrimSpace(line),
						Message: fmt.Sprintf("Keyword %q found.", keyword),
					}, nil
				}
			}
			if !strings.HasSuffix(text, "\n") {
				if i := strings.LastIndexByte(text, '\n'); i >= 0 {
					pending = text[i+1:]
				} else {
					pending = text
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return MonitorResult{}, Fail(ReasonCapability, "watcher closed")
			}
			return MonitorResult{}, Wrap(ReasonCapability, err, "watch %s", path)
		}
	}
}
