// Command replay prints the audit history of a colony from the rotated
// jsonl.zst segments the server writes under <data>/audit. Segment names
// embed the UTC hour, so lexical order is chronological order.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"oceandepths/internal/sim/city"
)

func main() {
	var (
		dataDir = flag.String("data", "./data", "runtime data directory")
		cityID  = flag.String("city", "", "only entries for this city (optional)")
		stream  = flag.String("stream", "actions", "audit stream: actions | drift")
	)
	flag.Parse()

	auditDir := filepath.Join(*dataDir, "audit")
	segments, err := listSegments(auditDir, *stream)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list segments:", err)
		os.Exit(1)
	}
	if len(segments) == 0 {
		fmt.Fprintf(os.Stderr, "no %s segments under %s\n", *stream, auditDir)
		os.Exit(1)
	}

	total := 0
	for _, seg := range segments {
		n, err := replaySegment(seg, *stream, *cityID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "replay %s: %v\n", seg, err)
			os.Exit(1)
		}
		total += n
	}
	fmt.Fprintf(os.Stderr, "%d entries from %d segments\n", total, len(segments))
}

func listSegments(dir, stream string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, stream+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			out = append(out, filepath.Join(dir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

func replaySegment(path, stream, cityID string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer dec.Close()

	n := 0
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		switch stream {
		case "drift":
			var e city.DriftAuditEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return n, err
			}
			if cityID != "" && e.CityID != cityID {
				continue
			}
			fmt.Printf("%s\t%s\tdrift=%d\n", e.At.Format("2006-01-02T15:04:05Z"), e.CityID, len(e.Details))
		default:
			var e city.ActionAuditEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return n, err
			}
			if cityID != "" && e.CityID != cityID {
				continue
			}
			code := ""
			if e.Code != "" {
				code = "\t" + e.Code
			}
			fmt.Printf("%s\t%s\t%s\t%s\t%s%s\n", e.At.Format("2006-01-02T15:04:05Z"), e.CityID, e.ActionID, e.Kind, e.Event, code)
		}
		n++
	}
	return n, sc.Err()
}
