package discovery

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ExcludeList maps test IDs to the bug IDs they are excluded for. Each line
// of the file is "<test> [bug,bug] [synopsis...]"; '#' starts a comment.
type ExcludeList map[string]string

// ReadExcludeList reads an exclude list file. An empty path yields an empty
// list.
func ReadExcludeList(path string) (ExcludeList, error) {
	list := ExcludeList{}
	if path == "" {
		return list, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open exclude list: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line, _, _ := strings.Cut(sc.Text(), "#")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		id := strings.TrimSuffix(fields[0], DescriptionSuffix)
		bugs := ""
		if len(fields) > 1 {
			bugs = fields[1]
		}
		list[id] = bugs
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read exclude list %s: %w", path, err)
	}
	return list, nil
}

// Excluded reports whether id is on the list, with the NOT_RUN reason.
func (l ExcludeList) Excluded(id string) (string, bool) {
	bugs, ok := l[id]
	if !ok {
		return "", false
	}
	if bugs == "" {
		return "Test not run: excluded", true
	}
	return "Test not run: excluded (bugs: " + bugs + ")", true
}
