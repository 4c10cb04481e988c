package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raaihank/screen-tutor/internal/privacy"
)

var (
	flagDisabled bool
	flagJSON     bool
)

var detectCmd = &cobra.Command{
	Use:   "detect [text...]",
	Short: "List the personal data found in a text (reads stdin without arguments)",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		if text == "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "no input text")
			exitCode = ExitUsageError
			return nil
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		findings, err := a.detector.Detect(text)
		if err != nil {
			return err
		}
		return writeFindings(cmd.OutOrStdout(), findings, flagJSON)
	},
}

var anonymizeCmd = &cobra.Command{
	Use:   "anonymize [text...]",
	Short: "Mask the personal data in a text (reads stdin without arguments)",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(args, cmd.InOrStdin())
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		result, err := anonymize(a.detector, text, !flagDisabled)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), result.RedactedText)
		if len(result.Categories) > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "masked: %s\n", joinCategories(result.Categories))
		}
		return nil
	},
}

// anonymize masks text with the detector, or returns it unchanged when
// enabled is false
func anonymize(detector *privacy.Detector, text string, enabled bool) (privacy.ProcessResult, error) {
	if !enabled {
		return privacy.ProcessResult{
			AnonymizationResult: privacy.AnonymizationResult{RedactedText: text, Categories: []privacy.Category{}},
			Counts:              map[privacy.Category]int{},
		}, nil
	}
	return detector.Anonymize(text)
}

// readInput joins the arguments, or reads all of stdin when there are none.
// A single trailing newline from stdin is dropped.
func readInput(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	text := strings.TrimSuffix(string(data), "\n")
	return strings.TrimSuffix(text, "\r"), nil
}

func writeFindings(w io.Writer, findings []privacy.Finding, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"findings": findings, "total": len(findings)})
	}

	if len(findings) == 0 {
		fmt.Fprintln(w, "No personal data found.")
		return nil
	}
	for _, f := range findings {
		fmt.Fprintf(w, "%-12s %q\n", f.Category, f.Text)
	}
	return nil
}

func joinCategories(categories []privacy.Category) string {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func init() {
	detectCmd.Flags().BoolVar(&flagJSON, "json", false, "Print findings as JSON")
	anonymizeCmd.Flags().BoolVar(&flagDisabled, "disabled", false, "Return the text unchanged")
}
