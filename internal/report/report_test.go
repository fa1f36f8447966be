package report

import (
	"bufio"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
	Note  string  `json:"note,omitempty"`
	Skip  string  `json:"-"`
}

func TestWriteJSON_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, WriteJSON(path, []sample{{Name: "élève <b>&", Score: 1.5}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "[\n  {\n    \"name\": \"élève <b>&\",\n    \"score\": 1.5\n  }\n]\n"
	assert.Equal(t, want, string(data))
}

func TestWriteJSON_Overwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	require.NoError(t, os.WriteFile(path, []byte("old contents that are longer"), 0o644))

	require.NoError(t, WriteJSON(path, map[string]int{"a": 1}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestWriteJSON_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.json")
	require.NoError(t, WriteJSON(path, []int{1}))
	assert.FileExists(t, path)
}

func TestWriteJSON_UnencodableFallsBackToString(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	v := []sample{{Name: "x", Score: math.NaN(), Skip: "hidden"}}
	require.NoError(t, WriteJSON(path, v))

	var got []map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "NaN", got[0]["score"])
	assert.Equal(t, "x", got[0]["name"])
	assert.NotContains(t, got[0], "note")
	assert.NotContains(t, got[0], "Skip")
}

func TestWriteJSON_UnwritableTarget(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := WriteJSON(filepath.Join(blocker, "out.json"), 1)
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestJSONLWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	w, err := NewJSONLWriter(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Write(sample{Name: strings.Repeat("x", i), Score: float64(i)}))
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var s sample
		require.NoError(t, json.Unmarshal(sc.Bytes(), &s))
		lines++
	}
	assert.Equal(t, 20, lines)
}

func TestJSONLWriter_WriteAfterCloseFails(t *testing.T) {
	w, err := NewJSONLWriter(filepath.Join(t.TempDir(), "log.jsonl"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Write(map[string]int{"a": 1}), ErrPersistence)
}
