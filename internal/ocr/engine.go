package ocr

import (
	"context"
	"fmt"
	"strings"
)

// Result is the transcription produced for one image. The extraction
// core consumes only the final text.
type Result struct {
	Text string `json:"text"`
}

// Engine defines the interface for text recognition backends.
type Engine interface {
	// Recognize transcribes the text visible in an image or PDF.
	Recognize(ctx context.Context, imageData []byte, contentType string) (*Result, error)
	// Close releases backend resources.
	Close() error
}

// transcribePrompt builds the shared prompt used by all vision-model
// backends. Language hints are opaque strings passed through from
// configuration.
func transcribePrompt(languages []string) string {
	hint := strings.Join(languages, " and ")
	if hint == "" {
		hint = "English and Greek"
	}
	return fmt.Sprintf(`You are transcribing a photographed receipt, invoice or bank statement. The text may be in %s.

Read the document top to bottom and write out every line of printed text exactly as it appears, one line of output per line on the document. Preserve numbers, dates, currency symbols and punctuation verbatim.

Important:
- Output plain text only, no commentary before or after
- Do not translate, summarize, or reorder anything
- Do not use markdown code blocks
- If a word is unreadable, transcribe the characters you can see`, hint)
}
