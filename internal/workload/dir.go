package workload

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fractalstream/internal/logging"
)

const requestFilePattern = "request_%04d.json"

// DirWriter writes one JSON file per request into a directory.
type DirWriter struct {
	dir string
}

// NewDirWriter prepares dir for output. With clearExisting the directory and all of its
// contents are deleted first; callers resuming a run must pass false.
func NewDirWriter(dir string, clearExisting bool) (*DirWriter, error) {
	if clearExisting {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("clear %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirWriter{dir: dir}, nil
}

// WriteRequest writes r to request_NNNN.json. The file is renamed into place so readers
// never observe a partial record.
func (w *DirWriter) WriteRequest(r RequestDescriptor) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	name := fmt.Sprintf(requestFilePattern, r.FrameID)
	tmp, err := os.CreateTemp(w.dir, "."+name+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(w.dir, name))
}

// ReadRequestFile decodes a single request file.
func ReadRequestFile(path string) (RequestDescriptor, error) {
	var r RequestDescriptor
	data, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode %s: %w", path, err)
	}
	return r, r.Validate()
}

// maxDecodeAttempts bounds how many polls a request file may fail to decode before it
// is skipped for good. Files are retried because a writer may still be filling them.
const maxDecodeAttempts = 5

// DirSource polls a directory for request files it has not returned before.
// It is used by a single scheduler goroutine and is not safe for concurrent use.
type DirSource struct {
	dir      string
	seen     map[string]struct{}
	failures map[string]int
}

// NewDirSource returns a source reading from dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir, seen: make(map[string]struct{}), failures: make(map[string]int)}
}

// Poll returns descriptors for files that appeared since the previous call, ordered by
// frame id. A missing directory yields no requests. A file that cannot be decoded is
// retried on later polls and abandoned after maxDecodeAttempts failures.
func (s *DirSource) Poll(ctx context.Context) ([]RequestDescriptor, error) {
	log := logging.FromContext(ctx)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []RequestDescriptor
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		if _, ok := s.seen[name]; ok {
			continue
		}
		r, err := ReadRequestFile(filepath.Join(s.dir, name))
		if err != nil {
			s.failures[name]++
			if n := s.failures[name]; n >= maxDecodeAttempts {
				log.Warn("giving up on request file", "file", name, "attempts", n, "err", err)
				s.seen[name] = struct{}{}
				delete(s.failures, name)
			} else {
				log.Debug("request file not readable yet, retrying", "file", name, "attempt", n, "err", err)
			}
			continue
		}
		s.seen[name] = struct{}{}
		delete(s.failures, name)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FrameID < out[j].FrameID })
	return out, nil
}

// SliceSource serves a fixed set of descriptors, releasing at most Chunk per poll.
// A zero Chunk releases everything on the first poll.
type SliceSource struct {
	Requests []RequestDescriptor
	Chunk    int
	pos      int
}

// Poll returns the next chunk of pending descriptors.
func (s *SliceSource) Poll(context.Context) ([]RequestDescriptor, error) {
	if s.pos >= len(s.Requests) {
		return nil, nil
	}
	end := len(s.Requests)
	if s.Chunk > 0 && s.pos+s.Chunk < end {
		end = s.pos + s.Chunk
	}
	out := s.Requests[s.pos:end]
	s.pos = end
	return out, nil
}
