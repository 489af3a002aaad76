/*
Package suggestion turns text into improvement suggestions.

Remote suggestions come from a chat completion: BuildPrompt renders the
instructions for a mode, Suggest calls the completion service and Parse
reads the numbered or bulleted list that comes back. Retrieve optionally
embeds the text and pulls related style examples from the vector index to
ground the prompt.

Degraded never touches the network. It runs a handful of local heuristics
(long sentences, passive voice, filler words, repeated words, spacing) and
is the last resort of every fallback chain.

The engine itself does no retrying or circuit breaking; callers compose
those around each remote call.
*/
package suggestion
