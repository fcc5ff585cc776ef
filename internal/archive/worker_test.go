package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLog struct {
	family  string
	dir     string
	current string
}

func (f *fakeLog) FamilyName() string         { return f.family }
func (f *fakeLog) SegmentDir() string         { return f.dir }
func (f *fakeLog) CurrentSegmentPath() string { return f.current }

type fakeUploader struct {
	uploaded map[string][]byte
}

func (u *fakeUploader) Upload(ctx context.Context, key string, body []byte) error {
	if u.uploaded == nil {
		u.uploaded = map[string][]byte{}
	}
	u.uploaded[key] = body
	return nil
}

func TestSweepOnceUploadsRotatedSegmentsAndRemovesThem(t *testing.T) {
	dir := t.TempDir()
	rotated := filepath.Join(dir, "claude-20260101120000.jsonl")
	live := filepath.Join(dir, "claude-20260102120000.jsonl")
	require.NoError(t, os.WriteFile(rotated, []byte(`{"request_id":"a"}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(live, []byte(`{"request_id":"b"}`+"\n"), 0o644))

	up := &fakeUploader{}
	l := &fakeLog{family: "claude", dir: dir, current: live}
	w := NewWorker(up, l)

	w.SweepOnce(context.Background())

	assert.Len(t, up.uploaded, 1)
	var key string
	for k := range up.uploaded {
		key = k
	}
	assert.Equal(t, "claude/20260101/claude-20260101120000.jsonl", key)

	_, err := os.Stat(rotated)
	assert.True(t, os.IsNotExist(err), "rotated segment should be removed after upload")

	_, err = os.Stat(live)
	assert.NoError(t, err, "live segment must not be touched")
}

func TestSegmentKeyFormatsDatePrefix(t *testing.T) {
	assert.Equal(t, "codex/20260305/codex-20260305091500.jsonl", segmentKey("codex", "codex-20260305091500.jsonl"))
}
