package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/screen-tutor/internal/clipboard"
	"github.com/raaihank/screen-tutor/internal/ocr"
	"github.com/raaihank/screen-tutor/internal/pipeline"
)

var (
	flagImage string
	flagCopy  bool
	flagAddr  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Capture the screen (or read --image), extract and mask the text, and answer the QCM",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		tutor, err := a.newTutor(nil)
		if errors.Is(err, ocr.ErrMissingAPIKey) {
			return fmt.Errorf("%w: set OCRSPACE_API_KEY or ocr.api_key", err)
		}
		if err != nil {
			return err
		}

		var result *pipeline.Result
		if flagImage != "" {
			img, err := loadImage(flagImage)
			if err != nil {
				return err
			}
			result, err = tutor.Analyze(cmd.Context(), img)
			if err != nil {
				return a.reportError(err)
			}
		} else {
			result, err = tutor.AnalyzeScreen(cmd.Context())
			if err != nil {
				return a.reportError(err)
			}
		}

		printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), result)

		if flagCopy {
			if err := copyText(result.FinalText()); err != nil {
				a.logger.Warn("Failed to copy result to clipboard", zap.Error(err))
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), "Result copied to clipboard.")
			}
		}
		return nil
	},
}

var copyLastCmd = &cobra.Command{
	Use:   "copy-last",
	Short: "Copy the last result of a running server to the clipboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := fetchLastResult(flagAddr)
		if err != nil {
			return err
		}
		if text == "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "No result available yet.")
			return nil
		}
		if err := copyText(text); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Result copied to clipboard.")
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that a running server is healthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}

		resp, err := client.Get(flagAddr + "/health")
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("health check failed: HTTP %d", resp.StatusCode)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Health check passed")
		return nil
	},
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decoding image %s: %w", path, err)
	}
	return img, nil
}

// printResult writes the final text to out and the details to info
func printResult(out, info io.Writer, result *pipeline.Result) {
	if len(result.Categories) > 0 {
		fmt.Fprintf(info, "masked: %s\n", joinCategories(result.Categories))
	}
	if result.Summary != "" {
		source := result.Model
		if result.Cached {
			source += ", cached"
		}
		fmt.Fprintf(info, "%s (%s, %s)\n", result.Summary, source, result.Duration.Round(time.Millisecond))
	}
	fmt.Fprintln(out, result.FinalText())
}

func copyText(text string) error {
	if err := clipboard.Init(); err != nil {
		return err
	}
	return clipboard.Copy(text)
}

func fetchLastResult(addr string) (string, error) {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(addr + "/api/v1/last")
	if err != nil {
		return "", fmt.Errorf("fetching last result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching last result: HTTP %d", resp.StatusCode)
	}

	var body struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding last result: %w", err)
	}
	return body.Result, nil
}

func init() {
	analyzeCmd.Flags().StringVar(&flagImage, "image", "", "Analyze a PNG or JPEG file instead of the screen")
	analyzeCmd.Flags().BoolVar(&flagCopy, "copy", false, "Copy the result to the clipboard")
	copyLastCmd.Flags().StringVar(&flagAddr, "addr", "http://localhost:8080", "Server address")
	healthCmd.Flags().StringVar(&flagAddr, "addr", "http://localhost:8080", "Server address")
}
