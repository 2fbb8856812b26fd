package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind selects which per-campaign result file a line lands in.
type Kind string

const (
	KindSuccess Kind = "success"
	KindFailure Kind = "failure"
	KindOther   Kind = "other"
)

const timestampLayout = "2006-01-02 15:04:05"

// Recorder appends dialogue outcomes to plaintext per-campaign files:
// <dir>/<campaign_id>_<kind>.txt, one tab-separated line per target.
// Operators feed these files straight back into spreadsheets, hence
// plaintext and not the database.
type Recorder struct {
	dir string
	log zerolog.Logger

	mu sync.Mutex
}

func NewRecorder(dir string, logger *zerolog.Logger) *Recorder {
	return &Recorder{
		dir: dir,
		log: logger.With().Str("component", "results").Logger(),
	}
}

// Record appends `identifier\t[reason\t]timestamp` to the campaign's file
// for the given kind.
func (r *Recorder) Record(campaignID string, kind Kind, identifier, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	path := filepath.Join(r.dir, fmt.Sprintf("%s_%s.txt", campaignID, kind))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open result file: %w", err)
	}
	defer f.Close()

	line := identifier + "\t"
	if reason != "" {
		line += reason + "\t"
	}
	line += at.Format(timestampLayout) + "\n"

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	r.log.Debug().
		Str("campaign_id", campaignID).
		Str("kind", string(kind)).
		Str("identifier", identifier).
		Msg("result recorded")
	return nil
}

// RemoveFromSource deletes every line of the source target list matching the
// identifier, so finished targets are not re-imported. Matching ignores case
// and a leading @. A missing source file is not an error.
func (r *Recorder) RemoveFromSource(sourcePath, identifier string) error {
	if sourcePath == "" || identifier == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read source file: %w", err)
	}

	want := normalizeIdentifier(identifier)
	var kept []string
	removed := 0
	for _, line := range strings.Split(string(data), "\n") {
		if normalizeIdentifier(line) == want {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	if removed == 0 {
		return nil
	}

	tmp := sourcePath + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(kept, "\n")), 0o644); err != nil {
		return fmt.Errorf("write source file: %w", err)
	}
	if err := os.Rename(tmp, sourcePath); err != nil {
		return fmt.Errorf("replace source file: %w", err)
	}
	r.log.Debug().
		Str("source", sourcePath).
		Str("identifier", identifier).
		Int("removed", removed).
		Msg("identifier removed from source list")
	return nil
}

func normalizeIdentifier(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	return strings.ToLower(s)
}
