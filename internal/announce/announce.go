package announce

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"time"
)

// Announcement is one recurring server chat message.
type Announcement struct {
	Message  string `json:"message"`
	Interval int    `json:"intervalSeconds"`
	Pinned   bool   `json:"pinned"`
}

// Broadcaster is the slice of the game API used for chat announcements.
type Broadcaster interface {
	Announce(ctx context.Context, message string, pinned bool) error
}

// Service cycles announcements from an editable JSON file. The file is
// re-read on every tick; edits take effect without a restart, and a
// changed file resets the send schedule for removed entries only.
type Service struct {
	path     string
	client   Broadcaster
	log      *slog.Logger
	entries  []Announcement
	fileHash string
	lastSent map[string]time.Time
}

// NewService creates an announcement service reading from path.
func NewService(path string, client Broadcaster, log *slog.Logger) *Service {
	return &Service{
		path:     path,
		client:   client,
		log:      log,
		lastSent: make(map[string]time.Time),
	}
}

// Tick reloads the file when changed and sends every announcement whose
// interval has elapsed. A missing or unparseable file keeps the
// last-good entries.
func (s *Service) Tick(ctx context.Context, now time.Time) error {
	s.reload()

	for _, a := range s.entries {
		if a.Message == "" || a.Interval <= 0 {
			continue
		}
		interval := time.Duration(a.Interval) * time.Second
		if last, ok := s.lastSent[a.Message]; ok && now.Sub(last) < interval {
			continue
		}

		if err := s.client.Announce(ctx, a.Message, a.Pinned); err != nil {
			s.log.Error("announcement failed", "error", err)
			continue
		}
		s.lastSent[a.Message] = now
	}

	return nil
}

func (s *Service) reload() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("reading announcements file", "path", s.path, "error", err)
		}
		return
	}

	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])
	if hash == s.fileHash {
		return
	}

	var entries []Announcement
	if err := json.Unmarshal(raw, &entries); err != nil {
		s.log.Error("announcements file unparseable, keeping last good",
			"path", s.path, "error", err)
		return
	}

	s.entries = entries
	s.fileHash = hash

	// Drop schedule records for entries no longer present.
	current := make(map[string]bool, len(entries))
	for _, a := range entries {
		current[a.Message] = true
	}
	for msg := range s.lastSent {
		if !current[msg] {
			delete(s.lastSent, msg)
		}
	}

	s.log.Info("announcements reloaded", "path", s.path, "count", len(entries))
}
