package crawler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowail/bookwatch/internal/model"
)

func TestSaveStateIsAtomic(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "crawl_state.json")

	c := &Crawler{cfg: Config{StateFile: statePath}}
	state := model.NewCrawlState(time.Now())
	state.LastProcessedPage = 7
	state.BooksProcessed = 140

	require.NoError(t, c.saveState(state))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp file after a successful checkpoint")

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	var loaded model.CrawlState
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, 7, loaded.LastProcessedPage)
	assert.Equal(t, 140, loaded.BooksProcessed)
}

func TestLoadStateResumesFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "crawl_state.json")

	c := &Crawler{cfg: Config{StateFile: statePath}}
	original := model.NewCrawlState(time.Now())
	original.LastProcessedPage = 12
	original.TotalPages = 50
	require.NoError(t, c.saveState(original))

	loaded, err := c.loadState()
	require.NoError(t, err)
	assert.Equal(t, 12, loaded.LastProcessedPage)
	assert.Equal(t, 50, loaded.TotalPages)
}

func TestLoadStateMissingFileErrors(t *testing.T) {
	c := &Crawler{cfg: Config{StateFile: filepath.Join(t.TempDir(), "nope.json")}}
	_, err := c.loadState()
	assert.Error(t, err)
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, isConnectionError(&netErr{"connection refused"}))
	assert.False(t, isConnectionError(&netErr{"not found"}))
}

type netErr struct{ msg string }

func (e *netErr) Error() string { return e.msg }
