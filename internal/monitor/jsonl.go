package monitor

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sessionpulse/backend/internal/session"
)

type TokenUsage struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}

func (t TokenUsage) TotalContext() int {
	return t.InputTokens + t.CacheCreationInputTokens + t.CacheReadInputTokens
}

type jsonlEntry struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Timestamp string          `json:"timestamp"`
	Cwd       string          `json:"cwd"`
	Message   json.RawMessage `json:"message"`
}

type messageContent struct {
	Model   string          `json:"model"`
	Role    string          `json:"role"`
	Usage   *TokenUsage     `json:"usage,omitempty"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type ParseResult struct {
	SessionID    string
	Model        string
	LatestUsage  *TokenUsage
	MessageCount int
	ToolCalls    int
	LastTool     string
	LastActivity session.Activity
	LastTime     time.Time
	WorkingDir   string
}

// ParseSessionJSONL reads the transcript at path from offset and returns
// what changed plus the new offset. Only complete lines advance the offset;
// a partially written last line is left for the next poll. Malformed lines
// are skipped but consumed.
func ParseSessionJSONL(path string, offset int64) (*ParseResult, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, offset, err
		}
	}

	result := &ParseResult{LastActivity: session.Idle}
	reader := bufio.NewReader(f)
	parsedOffset := offset

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return result, parsedOffset, err
		}
		if len(line) == 0 {
			break
		}
		if line[len(line)-1] != '\n' {
			// Incomplete trailing line; don't parse or advance.
			break
		}

		var entry jsonlEntry
		if json.Unmarshal(line[:len(line)-1], &entry) != nil {
			parsedOffset += int64(len(line))
			if err == io.EOF {
				break
			}
			continue
		}
		parsedOffset += int64(len(line))

		if entry.SessionID != "" && result.SessionID == "" {
			result.SessionID = entry.SessionID
		}
		if entry.Cwd != "" {
			result.WorkingDir = entry.Cwd
		}
		if entry.Timestamp != "" {
			if t, perr := time.Parse(time.RFC3339Nano, entry.Timestamp); perr == nil {
				result.LastTime = t
			}
		}

		switch entry.Type {
		case "assistant":
			result.MessageCount++
			result.LastActivity = session.Thinking
			parseAssistantMessage(entry.Message, result)
		case "user":
			result.MessageCount++
			result.LastActivity = session.Waiting
		}

		if err == io.EOF {
			break
		}
	}

	return result, parsedOffset, nil
}

func parseAssistantMessage(raw json.RawMessage, result *ParseResult) {
	if raw == nil {
		return
	}

	var msg messageContent
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	if msg.Model != "" {
		result.Model = msg.Model
	}
	if msg.Usage != nil {
		result.LatestUsage = msg.Usage
	}

	var blocks []contentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return
	}
	for _, block := range blocks {
		if block.Type == "tool_use" {
			result.ToolCalls++
			result.LastTool = block.Name
			result.LastActivity = session.ToolUse
		}
	}
}

// FindRecentSessionFiles scans every project directory under root for JSONL
// transcripts modified within the given window.
func FindRecentSessionFiles(root string, within time.Duration) ([]string, error) {
	projectEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-within)
	var results []string

	for _, projEntry := range projectEntries {
		if !projEntry.IsDir() {
			continue
		}
		projPath := filepath.Join(root, projEntry.Name())
		files, err := os.ReadDir(projPath)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				results = append(results, filepath.Join(projPath, f.Name()))
			}
		}
	}

	return results, nil
}

func SessionIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".jsonl")
}

// DecodeProjectPath reverses Claude Code's project directory encoding
// (slashes replaced with dashes). Ambiguous for paths containing literal
// dashes, so candidates are checked against the filesystem; falls back to
// the raw name.
func DecodeProjectPath(encoded string) string {
	if !strings.HasPrefix(encoded, "-") {
		return encoded
	}

	candidate := strings.ReplaceAll(encoded, "-", "/")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}

	parts := strings.Split(encoded[1:], "-")
	for numSlashes := len(parts) - 1; numSlashes > 0; numSlashes-- {
		candidate := "/" + strings.Join(parts[:numSlashes], "/")
		if numSlashes < len(parts) {
			candidate = candidate + "/" + strings.Join(parts[numSlashes:], "-")
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return encoded
}

// readFirstTimestamp reads the first line's timestamp for session start
// detection. Returns false if the file has no parsable timestamp.
func readFirstTimestamp(path string) (time.Time, bool) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return time.Time{}, false
	}

	var entry struct {
		Timestamp string `json:"timestamp"`
	}
	if json.Unmarshal(scanner.Bytes(), &entry) != nil || entry.Timestamp == "" {
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
