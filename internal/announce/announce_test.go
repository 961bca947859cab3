package announce

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroadcaster struct {
	messages []string
	pinned   []bool
}

func (f *fakeBroadcaster) Announce(ctx context.Context, message string, pinned bool) error {
	f.messages = append(f.messages, message)
	f.pinned = append(f.pinned, pinned)
	return nil
}

func writeAnnouncements(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestService(t *testing.T) (*Service, *fakeBroadcaster, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "announcements.json")
	b := &fakeBroadcaster{}
	return NewService(path, b, slog.Default()), b, path
}

func TestService_SendsOnFirstTick(t *testing.T) {
	s, b, path := newTestService(t)
	writeAnnouncements(t, path, `[{"message":"Welcome!","intervalSeconds":600,"pinned":true}]`)

	require.NoError(t, s.Tick(context.Background(), time.Now()))

	require.Len(t, b.messages, 1)
	assert.Equal(t, "Welcome!", b.messages[0])
	assert.True(t, b.pinned[0])
}

func TestService_HonorsInterval(t *testing.T) {
	s, b, path := newTestService(t)
	writeAnnouncements(t, path, `[{"message":"Drive safe","intervalSeconds":60}]`)
	now := time.Now()

	require.NoError(t, s.Tick(context.Background(), now))
	require.NoError(t, s.Tick(context.Background(), now.Add(30*time.Second)))
	assert.Len(t, b.messages, 1, "interval not yet elapsed")

	require.NoError(t, s.Tick(context.Background(), now.Add(61*time.Second)))
	assert.Len(t, b.messages, 2)
}

func TestService_PicksUpFileEdits(t *testing.T) {
	s, b, path := newTestService(t)
	writeAnnouncements(t, path, `[{"message":"old","intervalSeconds":60}]`)
	now := time.Now()
	require.NoError(t, s.Tick(context.Background(), now))

	writeAnnouncements(t, path, `[{"message":"new","intervalSeconds":60}]`)
	require.NoError(t, s.Tick(context.Background(), now.Add(time.Second)))

	assert.Equal(t, []string{"old", "new"}, b.messages)
}

func TestService_MissingFileIsQuiet(t *testing.T) {
	s, b, _ := newTestService(t)
	require.NoError(t, s.Tick(context.Background(), time.Now()))
	assert.Empty(t, b.messages)
}

func TestService_UnparseableFileKeepsLastGood(t *testing.T) {
	s, b, path := newTestService(t)
	writeAnnouncements(t, path, `[{"message":"stable","intervalSeconds":1}]`)
	now := time.Now()
	require.NoError(t, s.Tick(context.Background(), now))

	writeAnnouncements(t, path, `{broken`)
	require.NoError(t, s.Tick(context.Background(), now.Add(2*time.Second)))

	assert.Equal(t, []string{"stable", "stable"}, b.messages)
}

func TestService_SkipsInvalidEntries(t *testing.T) {
	s, b, path := newTestService(t)
	writeAnnouncements(t, path, `[
		{"message":"","intervalSeconds":60},
		{"message":"no interval"},
		{"message":"valid","intervalSeconds":60}
	]`)

	require.NoError(t, s.Tick(context.Background(), time.Now()))
	assert.Equal(t, []string{"valid"}, b.messages)
}
