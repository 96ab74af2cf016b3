package mount

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Record is one mount the daemon performed on a caller's behalf. The file
// format is fixed legacy wire format: tab-separated
// device\tuid\tsession\tfstype\toptions\tmount_point, with '#' comments.
type Record struct {
	Device     string
	UID        string
	Session    string
	FSType     string
	Options    string
	MountPoint string
}

// StateFile persists the daemon's own-mount records. This is the only state
// that survives a daemon restart.
type StateFile struct {
	mu   sync.Mutex
	path string
}

// NewStateFile returns a StateFile stored at path. The file is created
// lazily on first Save/Append.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// Path returns the backing file path.
func (f *StateFile) Path() string { return f.path }

// Load reads every record from the file. A missing file is an empty list,
// not an error. Malformed rows are skipped.
func (f *StateFile) Load() ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked()
}

func (f *StateFile) loadLocked() ([]Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []Record
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 6 {
			continue
		}
		records = append(records, Record{
			Device:     fields[0],
			UID:        fields[1],
			Session:    fields[2],
			FSType:     fields[3],
			Options:    fields[4],
			MountPoint: fields[5],
		})
	}
	return records, nil
}

// Save rewrites the file with exactly the given records.
func (f *StateFile) Save(records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveLocked(records)
}

func (f *StateFile) saveLocked(records []Record) error {
	var b strings.Builder
	b.WriteString("# mounts performed by hald; do not edit\n")
	for _, r := range records {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Device, r.UID, r.Session, r.FSType, r.Options, r.MountPoint)
	}
	return os.WriteFile(f.path, []byte(b.String()), 0o644)
}

// Append adds one record, preserving existing ones.
func (f *StateFile) Append(rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	records, err := f.loadLocked()
	if err != nil {
		return err
	}
	return f.saveLocked(append(records, rec))
}

// RemoveByMountPoint drops every record for mountPoint, reporting whether
// anything was removed.
func (f *StateFile) RemoveByMountPoint(mountPoint string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	records, err := f.loadLocked()
	if err != nil {
		return false, err
	}
	var kept []Record
	for _, r := range records {
		if r.MountPoint != mountPoint {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(records) {
		return false, nil
	}
	return true, f.saveLocked(kept)
}
