package skills

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Builtins returns the local skills shipped with relay. File access is
// confined to root when it is set; fetches use client.
func Builtins(root string, client *http.Client) []Skill {
	return []Skill{&ShellSkill{}, &FileSkill{Root: root}, &FetchSkill{Client: client}}
}

// ShellSkill executes shell commands.
type ShellSkill struct{}

func (s *ShellSkill) Name() string { return "shell" }
func (s *ShellSkill) Description() string {
	return "Executes a shell command and returns its combined output."
}
func (s *ShellSkill) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute.",
			},
			"workdir": map[string]any{
				"type":        "string",
				"description": "Directory to run the command in.",
			},
		},
		"required": []string{"command"},
	}
}
func (s *ShellSkill) Execute(ctx context.Context, args map[string]any) (string, error) {
	cmdStr, _ := args["command"].(string)
	if strings.TrimSpace(cmdStr) == "" {
		return "", errors.New("command is required")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdStr)
	if dir, _ := args["workdir"].(string); dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		if ctx.Err() != nil {
			return output, ctx.Err()
		}
		return output, fmt.Errorf("command failed: %w", err)
	}
	return output, nil
}

// FileSkill reads and writes files.
type FileSkill struct {
	// Root, when set, confines every path to this directory.
	Root string
}

func (f *FileSkill) Name() string { return "file" }
func (f *FileSkill) Description() string {
	return "Reads or writes files on the local filesystem."
}
func (f *FileSkill) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"method": map[string]any{
				"type":        "string",
				"enum":        []string{"read", "write"},
				"description": "The operation to perform.",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "The file path.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to write (for write method).",
			},
			"append": map[string]any{
				"type":        "boolean",
				"description": "Append to file instead of overwriting (for write method).",
			},
		},
		"required": []string{"method", "path"},
	}
}
func (f *FileSkill) Execute(_ context.Context, args map[string]any) (string, error) {
	method, _ := args["method"].(string)
	path, err := f.resolve(args["path"])
	if err != nil {
		return "", err
	}

	switch method {
	case "read":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read failed: %w", err)
		}
		return string(data), nil

	case "write":
		content, _ := args["content"].(string)
		appendMode, _ := args["append"].(bool)
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if appendMode {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("create directory: %w", err)
		}
		file, err := os.OpenFile(path, flags, 0o644)
		if err != nil {
			return "", fmt.Errorf("open failed: %w", err)
		}
		defer file.Close()

		if _, err := file.WriteString(content); err != nil {
			return "", fmt.Errorf("write failed: %w", err)
		}
		return fmt.Sprintf("Written %d bytes to %s", len(content), path), nil

	default:
		return "", fmt.Errorf("unknown method: %s", method)
	}
}

func (f *FileSkill) resolve(v any) (string, error) {
	path, _ := v.(string)
	if path == "" {
		return "", errors.New("path is required")
	}
	if f.Root == "" {
		return path, nil
	}
	root, err := filepath.Abs(f.Root)
	if err != nil {
		return "", err
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside %s", path, root)
	}
	return full, nil
}

// FetchSkill fetches URLs and returns their readable text.
type FetchSkill struct {
	Client *http.Client
}

func (f *FetchSkill) Name() string { return "fetch" }
func (f *FetchSkill) Description() string {
	return "Fetches a URL and returns its text content."
}
func (f *FetchSkill) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to fetch.",
			},
		},
		"required": []string{"url"},
	}
}
func (f *FetchSkill) Execute(ctx context.Context, args map[string]any) (string, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return "", errors.New("url is required")
	}

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, 512*1024)
	var text string
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		text, err = htmlText(body)
	} else {
		var b []byte
		b, err = io.ReadAll(body)
		text = string(b)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("HTTP %d\n\n%s", resp.StatusCode, strings.TrimSpace(text)), nil
}

// htmlText extracts visible text, skipping script, style and head content.
func htmlText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return strings.Join(strings.Fields(b.String()), " "), nil
			}
			return "", z.Err()
		case html.StartTagToken:
			name, _ := z.TagName()
			if isHidden(string(name)) {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isHidden(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

func isHidden(tag string) bool {
	switch tag {
	case "script", "style", "head", "noscript", "template":
		return true
	}
	return false
}
