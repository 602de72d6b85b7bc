package monitor

import (
	"os"
	"path/filepath"
	"time"
)

// ClaudeSource discovers Claude Code sessions by scanning the projects
// directory for recently modified JSONL transcripts and parsing them
// incrementally.
type ClaudeSource struct {
	root           string
	discoverWindow time.Duration
}

// NewClaudeSource builds a source rooted at dir (defaults to
// ~/.claude/projects when empty) that discovers transcripts modified within
// the given window.
func NewClaudeSource(dir string, discoverWindow time.Duration) *ClaudeSource {
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".claude", "projects")
		}
	}
	return &ClaudeSource{root: dir, discoverWindow: discoverWindow}
}

func (c *ClaudeSource) Name() string { return "claude" }

func (c *ClaudeSource) Discover() ([]SessionHandle, error) {
	paths, err := FindRecentSessionFiles(c.root, c.discoverWindow)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	handles := make([]SessionHandle, 0, len(paths))
	for _, path := range paths {
		startedAt, _ := readFirstTimestamp(path)
		handles = append(handles, SessionHandle{
			SessionID:  SessionIDFromPath(path),
			LogPath:    path,
			WorkingDir: DecodeProjectPath(filepath.Base(filepath.Dir(path))),
			Source:     "claude",
			StartedAt:  startedAt,
		})
	}

	return handles, nil
}

func (c *ClaudeSource) Parse(handle SessionHandle, offset int64) (SourceUpdate, int64, error) {
	result, newOffset, err := ParseSessionJSONL(handle.LogPath, offset)
	if err != nil {
		return SourceUpdate{}, offset, err
	}
	if newOffset == offset {
		return SourceUpdate{}, offset, nil
	}

	update := SourceUpdate{
		Model:        result.Model,
		MessageCount: result.MessageCount,
		ToolCalls:    result.ToolCalls,
		LastTool:     result.LastTool,
		Activity:     result.LastActivity,
		LastTime:     result.LastTime,
		WorkingDir:   result.WorkingDir,
	}
	if result.LatestUsage != nil {
		update.ContextTokens = result.LatestUsage.TotalContext()
		update.OutputTokens = result.LatestUsage.OutputTokens
	}
	if update.WorkingDir == "" {
		update.WorkingDir = handle.WorkingDir
	}

	return update, newOffset, nil
}
