package llm

import "context"

// ImagePromptOptions describes optional overrides for image generation, used
// by agents capable of returning GeneratedImage content alongside text.
type ImagePromptOptions struct {
	Size string
}

type imagePromptCtxKey struct{}

// WithImagePrompt annotates ctx to request image generation support from providers.
func WithImagePrompt(ctx context.Context, opts ImagePromptOptions) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, imagePromptCtxKey{}, opts)
}

// ImagePromptFromContext returns the requested image generation options when present.
func ImagePromptFromContext(ctx context.Context) (ImagePromptOptions, bool) {
	if ctx == nil {
		return ImagePromptOptions{}, false
	}
	if v := ctx.Value(imagePromptCtxKey{}); v != nil {
		if opts, ok := v.(ImagePromptOptions); ok {
			return opts, true
		}
	}
	return ImagePromptOptions{}, false
}
