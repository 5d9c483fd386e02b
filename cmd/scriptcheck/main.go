// Command scriptcheck validates operator-supplied strategy scripts before
// they are dropped into a running scanner's script directory.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/csisgpt/arbwatch/internal/detect/arb"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	dir := flag.String("dir", "scripts/strategies", "Directory containing .js strategy scripts")
	flag.Parse()

	entries, err := os.ReadDir(*dir)
	if err != nil {
		return fmt.Errorf("read script directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".js") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		fmt.Printf("no strategy scripts in %s\n", *dir)
		return nil
	}

	failures := 0
	for _, name := range names {
		source, err := os.ReadFile(filepath.Join(*dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		strategy, err := arb.NewScriptStrategy(strings.TrimSuffix(name, ".js"), string(source))
		if err != nil {
			failures++
			fmt.Printf("FAIL %s: %v\n", name, err)
			continue
		}
		fmt.Printf("ok   %s (strategy %q)\n", name, strategy.Name())
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d scripts failed validation", failures, len(names))
	}
	return nil
}
