package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/smazurov/hald/internal/rules"
	"github.com/spf13/cobra"
)

// passDirs are the pass subdirectories scanned under the rule prefix, in
// pipeline order.
var passDirs = []string{"preprobe", "information", "policy"}

// CreateValidateRulesCmd creates the validate-rules command: parse every
// rule file under a rule directory prefix without running the daemon, and
// report files that would be skipped at load time.
func CreateValidateRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-rules [rule-dir]",
		Short: "Validate FDI rule files",
		Long:  `Parses every .fdi file under the given rule directory prefix (preprobe/, information/, policy/) and reports parse failures. The daemon skips a malformed file at load time; this command surfaces them up front.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleDir := "/usr/share/hal/fdi"
			if len(args) == 1 {
				ruleDir = args[0]
			}
			quiet, _ := cmd.Flags().GetBool("quiet")

			total, failed := 0, 0
			for _, pass := range passDirs {
				dir := filepath.Join(ruleDir, pass)
				entries, err := os.ReadDir(dir)
				if err != nil {
					if !quiet {
						fmt.Printf("%s: skipped (%v)\n", dir, err)
					}
					continue
				}
				var names []string
				for _, ent := range entries {
					if !ent.IsDir() && strings.HasSuffix(ent.Name(), ".fdi") {
						names = append(names, ent.Name())
					}
				}
				sort.Strings(names)
				for _, name := range names {
					total++
					path := filepath.Join(dir, name)
					if _, err := rules.ParseFile(path); err != nil {
						failed++
						fmt.Printf("FAIL %s: %v\n", path, err)
						continue
					}
					if !quiet {
						fmt.Printf("ok   %s\n", path)
					}
				}
			}

			fmt.Printf("\n%d rule files checked, %d failed\n", total, failed)
			if failed > 0 {
				return fmt.Errorf("%d rule files failed to parse", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolP("quiet", "q", false, "Only print failures")
	return cmd
}
