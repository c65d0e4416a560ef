package buffer

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
)

// RecordingHeader is the first line of a capture recording.
type RecordingHeader struct {
	ChirpkeepCapture bool   `json:"_chirpkeep_capture"`
	SchemaVersion    string `json:"schema_version"`
	SavedAt          int64  `json:"saved_at"`
}

// maxLineSize bounds a single recorded entry; timeline pages can be several
// megabytes.
const maxLineSize = 64 << 20

// SaveJSONL writes entries to path, one JSON object per line after a header
// line. The file is written to a temp path and renamed into place.
func SaveJSONL(path string, entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create recording directory: %w", err)
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return fmt.Errorf("failed to generate temp file name: %w", err)
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	if err := enc.Encode(RecordingHeader{ChirpkeepCapture: true, SchemaVersion: "1.0", SavedAt: time.Now().Unix()}); err != nil {
		return err
	}
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return fmt.Errorf("failed to encode entry %s: %w", entries[i].ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close recording: %w", err)
	}
	file = nil

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to finalize recording: %w", err)
	}
	success = true
	return nil
}

// LoadJSONL reads a recording written by SaveJSONL. Entries are returned
// unprocessed so they can be indexed again. A repeated id keeps its first
// entry, so concatenated recordings load cleanly.
func LoadJSONL(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var entries []Entry
	seen := make(map[string]struct{})
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var header RecordingHeader
		if lineNum == 1 && json.Unmarshal(line, &header) == nil && header.ChirpkeepCapture {
			continue
		}

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("line %d: invalid JSON: %w", lineNum, err)
		}
		if e.ID == "" {
			return nil, fmt.Errorf("line %d: missing id field", lineNum)
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		e.Processed = false
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	return entries, nil
}
