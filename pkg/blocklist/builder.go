package blocklist

import (
	"bufio"
	"os"

	"duskhole/pkg/dnsname"
	"duskhole/pkg/logging"
)

// Sources names the three ordered input locations read by Build, per §4.3:
// configured remote-cache file, configured local files, configured custom
// file. Any path left empty is skipped.
type Sources struct {
	RemoteCacheFile string
	LocalLists      []string
	CustomListFile  string
}

// BuildResult reports what the builder actually read; the scheduler logs it
// after each rebuild.
type BuildResult struct {
	FilesRead    []string
	FilesFailed  []string
	DroppedCount int
}

// Builder turns a set of source files into a new Snapshot. It performs no
// network I/O — fetching remote lists into the cache file is the Remote
// Fetcher's job (pkg/fetcher); the Builder only ever reads local files.
type Builder struct {
	logger          *logging.Logger
	enableWildcards bool
	useBloom        bool
}

// NewBuilder creates a Builder. enableWildcards mirrors
// blocklist.enable_wildcards: when false, wildcard entries are discarded at
// parse time rather than being parsed and then filtered. useBloom enables
// the optional negative accelerator described in §4.2.
func NewBuilder(logger *logging.Logger, enableWildcards, useBloom bool) *Builder {
	return &Builder{logger: logger, enableWildcards: enableWildcards, useBloom: useBloom}
}

// Build reads every configured source in order, parses and normalizes each
// line, deduplicates across sources, and returns a new, unpublished
// Snapshot. It is deterministic: identical source bytes produce a
// structurally equal snapshot regardless of the order sources were listed
// in within a class (local_lists order does not affect the result, since
// membership in each set is all that matters).
//
// A source file that cannot be opened is logged and skipped, not fatal; if
// every source is unreadable the result is the empty snapshot.
func (b *Builder) Build(sources Sources) (*Snapshot, BuildResult) {
	exactNames := make(map[dnsname.Name]struct{})
	wildcardNames := make(map[dnsname.Name]struct{})
	result := BuildResult{}

	paths := make([]string, 0, len(sources.LocalLists)+2)
	if sources.RemoteCacheFile != "" {
		paths = append(paths, sources.RemoteCacheFile)
	}
	paths = append(paths, sources.LocalLists...)
	if sources.CustomListFile != "" {
		paths = append(paths, sources.CustomListFile)
	}

	for _, path := range paths {
		if err := b.readFile(path, exactNames, wildcardNames, &result); err != nil {
			result.FilesFailed = append(result.FilesFailed, path)
			b.logger.Warn("blocklist source unreadable, skipping", "path", path, "error", err)
			continue
		}
		result.FilesRead = append(result.FilesRead, path)
	}

	if len(result.FilesRead) == 0 && len(paths) > 0 {
		b.logger.Error("no blocklist sources readable, publishing empty snapshot")
	}

	return newSnapshot(exactNames, wildcardNames, b.useBloom), result
}

func (b *Builder) readFile(path string, exactNames, wildcardNames map[dnsname.Name]struct{}, result *BuildResult) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		entries, dropped := ParseLine(scanner.Text(), b.enableWildcards)
		for _, d := range dropped {
			result.DroppedCount++
			b.logger.Debug("dropped invalid blocklist token", "source", path, "line", lineNo, "token", d.Token, "reason", d.Reason)
		}
		for _, e := range entries {
			switch e.Kind {
			case KindExact:
				exactNames[e.Name] = struct{}{}
			case KindWildcard:
				wildcardNames[e.Name] = struct{}{}
			}
		}
	}
	return scanner.Err()
}
