package scanner

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kabilan/claude-bar/internal/model"
	"github.com/kabilan/claude-bar/internal/pricing"
)

// CodexScanner reads Codex session logs laid out as
// sessions/YYYY/MM/DD/*.jsonl. Records carry cumulative token totals, so the
// scanner diffs consecutive readings within a file to recover per-turn
// deltas.
type CodexScanner struct {
	sessionsDir string
	log         zerolog.Logger
}

// NewCodex creates a scanner over the given sessions directory, defaulting
// to $CODEX_HOME/sessions or ~/.codex/sessions.
func NewCodex(log zerolog.Logger, dir ...string) *CodexScanner {
	sessionsDir := ""
	switch {
	case len(dir) > 0:
		sessionsDir = dir[0]
	case os.Getenv("CODEX_HOME") != "":
		sessionsDir = filepath.Join(os.Getenv("CODEX_HOME"), "sessions")
	default:
		if home, err := os.UserHomeDir(); err == nil {
			sessionsDir = filepath.Join(home, ".codex", "sessions")
		} else {
			sessionsDir = filepath.Join(".codex", "sessions")
		}
	}
	return &CodexScanner{sessionsDir: sessionsDir, log: log}
}

// Provider identifies the account family this scanner covers.
func (s *CodexScanner) Provider() model.Provider {
	return model.ProviderCodex
}

// Scan enumerates session files whose directory date falls inside the
// window and parses them into entries.
func (s *CodexScanner) Scan(since, until model.Date) ([]Entry, error) {
	files, err := s.findFiles(since, until)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Int("count", len(files)).Msg("found codex session files")

	var entries []Entry
	for _, f := range files {
		parsed, err := s.parseFile(f.path, f.date)
		if err != nil {
			s.log.Debug().Err(err).Str("file", f.path).Msg("failed to parse session")
			continue
		}
		entries = append(entries, parsed...)
	}
	return entries, nil
}

type datedFile struct {
	path string
	date model.Date
}

func (s *CodexScanner) findFiles(since, until model.Date) ([]datedFile, error) {
	var files []datedFile

	if _, err := os.Stat(s.sessionsDir); err != nil {
		return files, nil
	}

	years, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		return nil, err
	}
	for _, yearEntry := range years {
		year, ok := dirInt(yearEntry)
		if !ok {
			continue
		}
		yearPath := filepath.Join(s.sessionsDir, yearEntry.Name())

		months, err := os.ReadDir(yearPath)
		if err != nil {
			return nil, err
		}
		for _, monthEntry := range months {
			month, ok := dirInt(monthEntry)
			if !ok || month < 1 || month > 12 {
				continue
			}
			monthPath := filepath.Join(yearPath, monthEntry.Name())

			days, err := os.ReadDir(monthPath)
			if err != nil {
				return nil, err
			}
			for _, dayEntry := range days {
				day, ok := dirInt(dayEntry)
				if !ok {
					continue
				}
				date := model.Date{Year: year, Month: time.Month(month), Day: day}
				if !date.InRange(since, until) {
					continue
				}
				dayPath := filepath.Join(monthPath, dayEntry.Name())

				sessions, err := os.ReadDir(dayPath)
				if err != nil {
					return nil, err
				}
				for _, f := range sessions {
					if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
						continue
					}
					files = append(files, datedFile{path: filepath.Join(dayPath, f.Name()), date: date})
				}
			}
		}
	}

	return files, nil
}

func dirInt(e os.DirEntry) (int, bool) {
	if !e.IsDir() {
		return 0, false
	}
	n, err := strconv.Atoi(e.Name())
	if err != nil {
		return 0, false
	}
	return n, true
}

// codexRecord is the raw session line shape.
type codexRecord struct {
	Type    string `json:"type"`
	Payload *struct {
		Type  string `json:"type"`
		Model string `json:"model"`
		Info  *struct {
			Model           string `json:"model"`
			ModelName       string `json:"model_name"`
			TotalTokenUsage *struct {
				InputTokens          *int64 `json:"input_tokens"`
				CachedInputTokens    *int64 `json:"cached_input_tokens"`
				CacheReadInputTokens *int64 `json:"cache_read_input_tokens"`
				OutputTokens         *int64 `json:"output_tokens"`
			} `json:"total_token_usage"`
		} `json:"info"`
	} `json:"payload"`
}

// codexTotals is the cumulative-counter state, scoped to a single file.
type codexTotals struct {
	input  int64
	cached int64
	output int64
}

func (s *CodexScanner) parseFile(path string, date model.Date) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	currentModel := ""
	var last codexTotals

	sc := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 1024*1024)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec codexRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			s.log.Debug().Err(err).Str("file", path).Msg("skipping malformed line")
			continue
		}
		if rec.Payload == nil {
			continue
		}

		switch rec.Type {
		case "turn_context":
			// Usage records may not repeat the model name; remember it.
			if rec.Payload.Model != "" {
				currentModel = pricing.Normalize(rec.Payload.Model)
			}

		case "event_msg":
			if rec.Payload.Type != "token_count" || rec.Payload.Info == nil {
				continue
			}
			info := rec.Payload.Info
			if info.TotalTokenUsage == nil {
				continue
			}

			name := info.Model
			if name == "" {
				name = info.ModelName
			}
			if name != "" {
				name = pricing.Normalize(name)
			} else if currentModel != "" {
				name = currentModel
			} else {
				name = "unknown"
			}

			input := int64Or(info.TotalTokenUsage.InputTokens)
			cachedField := info.TotalTokenUsage.CachedInputTokens
			if cachedField == nil {
				cachedField = info.TotalTokenUsage.CacheReadInputTokens
			}
			cached := int64Or(cachedField)
			output := int64Or(info.TotalTokenUsage.OutputTokens)

			// Counters are cumulative; a smaller later reading (clock skew,
			// counter reset) clamps to a zero delta.
			deltaInput := clampSub(input, last.input)
			deltaCached := clampSub(min(cached, deltaInput), last.cached)
			deltaOutput := clampSub(output, last.output)

			last = codexTotals{input: input, cached: cached, output: output}

			if deltaInput == 0 && deltaOutput == 0 {
				continue
			}

			entries = append(entries, Entry{
				Date:  date,
				Model: name,
				Usage: pricing.TokenUsage{
					InputTokens:     clampSub(deltaInput, deltaCached),
					OutputTokens:    deltaOutput,
					CacheReadTokens: deltaCached,
				},
			})
		}
	}

	return entries, sc.Err()
}

func int64Or(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func clampSub(a, b int64) int64 {
	if a <= b {
		return 0
	}
	return a - b
}
