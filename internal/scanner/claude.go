package scanner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kabilan/claude-bar/internal/model"
	"github.com/kabilan/claude-bar/internal/pricing"
)

// ClaudeScanner reads Claude Code session transcripts: one JSONL file per
// session under the projects directories, each record an independent
// per-turn token count.
type ClaudeScanner struct {
	projectDirs []string
	log         zerolog.Logger
}

// NewClaude creates a scanner over the given project directories, defaulting
// to ~/.claude/projects and the XDG config equivalent when none are given.
func NewClaude(log zerolog.Logger, dirs ...string) *ClaudeScanner {
	if len(dirs) == 0 {
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, filepath.Join(home, ".claude", "projects"))
		}
		if cfg, err := os.UserConfigDir(); err == nil {
			dirs = append(dirs, filepath.Join(cfg, "claude", "projects"))
		}
	}
	return &ClaudeScanner{projectDirs: dirs, log: log}
}

// Provider identifies the account family this scanner covers.
func (s *ClaudeScanner) Provider() model.Provider {
	return model.ProviderClaude
}

// Scan enumerates transcript files in the window and parses them into
// entries. Unparseable lines and files are skipped; a directory that exists
// but cannot be walked is an error.
func (s *ClaudeScanner) Scan(since, until model.Date) ([]Entry, error) {
	files, err := s.findFiles(since, until)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Int("count", len(files)).Msg("found claude transcript files")

	var entries []Entry
	for _, file := range files {
		parsed, err := s.parseFile(file, since, until)
		if err != nil {
			s.log.Debug().Err(err).Str("file", file).Msg("failed to parse transcript")
			continue
		}
		entries = append(entries, parsed...)
	}
	return entries, nil
}

func (s *ClaudeScanner) findFiles(since, until model.Date) ([]string, error) {
	var files []string
	for _, dir := range s.projectDirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".jsonl") {
				return nil
			}
			// Date-named files can be filtered without opening them.
			stem := strings.TrimSuffix(filepath.Base(path), ".jsonl")
			if fileDate, err := model.ParseDate(stem); err == nil && !fileDate.InRange(since, until) {
				return nil
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", dir, err)
		}
	}
	return files, nil
}

// claudeRecord is the raw transcript line shape.
type claudeRecord struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
	Message   *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage *struct {
			InputTokens              int64 `json:"input_tokens"`
			OutputTokens             int64 `json:"output_tokens"`
			CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

func (s *ClaudeScanner) parseFile(path string, since, until model.Date) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	seen := make(map[string]struct{})

	sc := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 1024*1024)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec claudeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			s.log.Debug().Err(err).Str("file", path).Msg("skipping malformed line")
			continue
		}

		if rec.Type != "assistant" || rec.Message == nil || rec.Message.Usage == nil {
			continue
		}

		ts, err := time.Parse(time.RFC3339, rec.Timestamp)
		if err != nil {
			continue
		}
		date := model.DateOf(ts.Local())
		if !date.InRange(since, until) {
			continue
		}

		// Guard against replayed/duplicated records.
		dedupKey := rec.Message.ID + ":" + rec.RequestID
		if dedupKey != ":" {
			if _, dup := seen[dedupKey]; dup {
				continue
			}
			seen[dedupKey] = struct{}{}
		}

		name := rec.Message.Model
		if name == "" {
			name = "unknown"
		}

		entries = append(entries, Entry{
			Date:  date,
			Model: pricing.Normalize(name),
			Usage: pricing.TokenUsage{
				InputTokens:         rec.Message.Usage.InputTokens,
				OutputTokens:        rec.Message.Usage.OutputTokens,
				CacheCreationTokens: rec.Message.Usage.CacheCreationInputTokens,
				CacheReadTokens:     rec.Message.Usage.CacheReadInputTokens,
			},
		})
	}

	return entries, sc.Err()
}
