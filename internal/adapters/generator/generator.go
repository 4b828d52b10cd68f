// Package generator implements the Generator Adapter (spec §2 item 4):
// text-to-image and image-edit, both retryable RPCs with categorized
// failures (timeout, upstream-error, safety-rejection, malformed-output).
package generator

import (
	"context"
)

// Result is the bytes produced by a single generation call.
type Result struct {
	ImageBytes []byte
	Ext        string // file extension without the dot, e.g. "png"
}

// Generator is implemented by the Bedrock-backed client and the
// deterministic Stub used when no provider is configured.
type Generator interface {
	// TextToImage generates a root image from prompt alone.
	TextToImage(ctx context.Context, prompt string) (*Result, error)

	// ImageEdit generates a variant image from base bytes plus prompt.
	ImageEdit(ctx context.Context, base []byte, prompt string) (*Result, error)
}
