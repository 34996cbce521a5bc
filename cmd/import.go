package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"semgroup/internal/util"
)

var (
	importScope  int64
	importSource string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import keywords, categories or type samples from files",
}

// One keyword per line. Blank lines and duplicates of earlier lines in the
// same file are skipped.
var importKeywordsCmd = &cobra.Command{
	Use:   "keywords <file>",
	Short: "Import keywords, one per line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		lines, err := readLines(args[0])
		if err != nil {
			return err
		}

		added, seen := 0, map[string]bool{}
		for _, line := range lines {
			key := strings.ToLower(line)
			if seen[key] {
				continue
			}
			seen[key] = true
			if _, err := appInstance.Store.AddKeyword(cmd.Context(), importScope, line, importSource); err != nil {
				return err
			}
			added++
		}
		fmt.Printf("Imported %d keywords into scope %d.\n", added, importScope)
		return nil
	},
}

var importCategoriesCmd = &cobra.Command{
	Use:   "categories <file>",
	Short: "Import category labels, one per line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		lines, err := readLines(args[0])
		if err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := appInstance.Store.AddCategory(cmd.Context(), importScope, line); err != nil {
				return err
			}
		}
		fmt.Printf("Imported %d categories into scope %d.\n", len(lines), importScope)
		return nil
	},
}

// Lines are "label<TAB>sample text".
var importSamplesCmd = &cobra.Command{
	Use:   "samples <file>",
	Short: "Import labeled type samples, one 'label<TAB>text' pair per line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		lines, err := readLines(args[0])
		if err != nil {
			return err
		}
		for i, line := range lines {
			label, text, ok := strings.Cut(line, "\t")
			if !ok {
				return fmt.Errorf("line %d: expected 'label<TAB>text', got %q", i+1, line)
			}
			if _, err := appInstance.Store.AddTypeSample(cmd.Context(), importScope, strings.TrimSpace(label), strings.TrimSpace(text)); err != nil {
				return err
			}
		}
		fmt.Printf("Imported %d type samples into scope %d.\n", len(lines), importScope)
		return nil
	},
}

func init() {
	importCmd.PersistentFlags().Int64Var(&importScope, "scope", 0, "Project scope to import into (required)")
	importCmd.MarkPersistentFlagRequired("scope")
	importCmd.PersistentFlags().StringVar(&importSource, "source", "import", "Source tag recorded on imported keywords")

	importCmd.AddCommand(importKeywordsCmd)
	importCmd.AddCommand(importCategoriesCmd)
	importCmd.AddCommand(importSamplesCmd)
	rootCmd.AddCommand(importCmd)
}

func readLines(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	content, err := util.CleanFileContent(raw, path)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}
