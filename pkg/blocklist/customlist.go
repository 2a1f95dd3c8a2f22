package blocklist

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

// customListMu serializes all custom-list edits process-wide (§5: "Custom
// list file: serialized by a process-wide mutex; writes are
// read-modify-rewrite of the whole file using temp-file + rename").
var customListMu sync.Mutex

// AppendToCustomList adds name to the custom list file if it is not already
// present, as its own line. The in-memory effect only takes place on the
// next rebuild, per §5.
func AppendToCustomList(path, name string) error {
	customListMu.Lock()
	defer customListMu.Unlock()

	lines, err := readLines(path)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if strings.TrimSpace(l) == name {
			return nil
		}
	}
	lines = append(lines, name)
	return rewriteAtomic(path, lines)
}

// RemoveFromCustomList removes name's line from the custom list file, if
// present.
func RemoveFromCustomList(path, name string) error {
	customListMu.Lock()
	defer customListMu.Unlock()

	lines, err := readLines(path)
	if err != nil {
		return err
	}
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != name {
			kept = append(kept, l)
		}
	}
	return rewriteAtomic(path, kept)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func rewriteAtomic(path string, lines []string) error {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(sb.String()), 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
