package anthropic

// BuildCachedSystemBlocks returns text as a single system block with a cache
// breakpoint. The quote prompt is identical across requests, so every call
// after the first within ttl reads it from the prompt cache. An empty ttl
// uses the API default of five minutes.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
