package idmap

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"bst-go/bsterrors"
)

// LoadProcMap parses a kernel id map file (/proc/<pid>/uid_map or gid_map,
// including /proc/self/...), whose lines are whitespace-separated
// "inner outer length" triples.
func LoadProcMap(path string) (Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, bsterrors.Wrap(err, bsterrors.ErrIDMap, "open proc map "+path)
	}
	defer f.Close()
	return parseProcMap(f, path)
}

func parseProcMap(r io.Reader, path string) (Map, error) {
	var out Map
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, bsterrors.New(bsterrors.ErrIDMap, "parse "+path, "malformed id map line: "+scanner.Text())
		}
		inner, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, bsterrors.Wrap(err, bsterrors.ErrIDMap, "parse "+path+": inner")
		}
		outer, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, bsterrors.Wrap(err, bsterrors.ErrIDMap, "parse "+path+": outer")
		}
		length, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return nil, bsterrors.Wrap(err, bsterrors.ErrIDMap, "parse "+path+": length")
		}
		out = append(out, Range{Inner: uint32(inner), Outer: uint32(outer), Length: uint32(length)})
	}
	if err := scanner.Err(); err != nil {
		return nil, bsterrors.Wrap(err, bsterrors.ErrIDMap, "scan "+path)
	}
	return out, nil
}

// LoadSubIDs parses /etc/subuid or /etc/subgid, retaining only entries
// whose owner field matches name or id. Format: "name_or_id:outer:length",
// one entry per line. Entries are emitted with Inner left zero; callers
// rebind or project as the algorithm requires.
func LoadSubIDs(path, name string, id uint32) (Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, bsterrors.Wrap(err, bsterrors.ErrIDMap, "open subid file "+path)
	}
	defer f.Close()
	return parseSubIDs(f, path, name, id)
}

func parseSubIDs(r io.Reader, path, name string, id uint32) (Map, error) {
	idStr := strconv.FormatUint(uint64(id), 10)

	var out Map
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) != 3 {
			return nil, bsterrors.New(bsterrors.ErrIDMap, "parse "+path, "malformed subid line: "+line)
		}
		owner := fields[0]
		if owner != name && owner != idStr {
			continue
		}
		outer, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, bsterrors.Wrap(err, bsterrors.ErrIDMap, "parse "+path+": outer")
		}
		length, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return nil, bsterrors.Wrap(err, bsterrors.ErrIDMap, "parse "+path+": length")
		}
		out = append(out, Range{Outer: uint32(outer), Length: uint32(length)})
	}
	if err := scanner.Err(); err != nil {
		return nil, bsterrors.Wrap(err, bsterrors.ErrIDMap, "scan "+path)
	}
	return out, nil
}
