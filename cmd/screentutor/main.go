// Screentutor captures the screen, extracts text with OCR, masks personal
// data and asks an LLM to answer the multiple-choice questions it finds.
//
// Usage:
//
//	screentutor analyze --copy          # capture, analyze, copy the answer
//	screentutor analyze --image qcm.png # analyze an image file
//	screentutor anonymize < text.txt    # mask personal data in a text
//	screentutor serve                   # HTTP API, LLM proxy and dashboard
package main

import (
	"os"

	"github.com/raaihank/screen-tutor/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
