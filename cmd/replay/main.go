// Command replay reads compressed tick logs written by the server and checks
// that every removal was preceded by a draw of the same chunk.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/sim/stream"
)

func main() {
	var (
		ticksDir = flag.String("ticks", "./data/logs/ticks", "dir containing ticks-*.jsonl.zst")
		strict   = flag.Bool("strict", false, "fail on removals of chunks never seen drawn")
	)
	flag.Parse()

	files, err := listTickFiles(*ticksDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list ticks:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no tick files found in", *ticksDir)
		os.Exit(1)
	}

	sum := newSummary()
	for _, path := range files {
		err := persistlog.ReadJSONL(path, func(r stream.TickReport) error {
			return sum.add(r, *strict)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "replay %s: %v\n", filepath.Base(path), err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: ticks=%d rebuilds=%d drawn=%d removed=%d live=%d max_registry=%d unmatched=%d\n",
		sum.Ticks, sum.Rebuilds, sum.Drawn, sum.Removed, len(sum.live), sum.MaxRegistry, sum.Unmatched)
}

func listTickFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "ticks-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

type summary struct {
	Ticks       int
	Rebuilds    int
	Drawn       int
	Removed     int
	MaxRegistry int
	// Unmatched counts removals of chunks drawn before the log began.
	Unmatched int

	seen map[uint64]bool
	live map[stream.ChunkKey]bool
}

func newSummary() *summary {
	return &summary{seen: map[uint64]bool{}, live: map[stream.ChunkKey]bool{}}
}

func (s *summary) add(r stream.TickReport, strict bool) error {
	if s.seen[r.Tick] {
		return fmt.Errorf("duplicate tick %d", r.Tick)
	}
	s.seen[r.Tick] = true
	s.Ticks++
	if r.Rebuilt {
		s.Rebuilds++
	}
	if r.Registry > s.MaxRegistry {
		s.MaxRegistry = r.Registry
	}
	for _, k := range r.Drawn {
		s.live[k] = true
		s.Drawn++
	}
	pending := make(map[stream.ChunkKey]bool, len(r.PendingRemoval))
	for _, k := range r.PendingRemoval {
		pending[k] = true
	}
	for _, k := range r.Removed {
		if !pending[k] {
			return fmt.Errorf("tick %d removed %s without marking it pending", r.Tick, k)
		}
		if !s.live[k] {
			if strict {
				return fmt.Errorf("tick %d removed %s which was never drawn", r.Tick, k)
			}
			s.Unmatched++
		}
		delete(s.live, k)
		s.Removed++
	}
	return nil
}
