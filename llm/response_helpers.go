package llm

import (
	"fmt"
	"strings"
)

// FirstChoice safely returns the first choice from a ChatResponse.
// Returns an error if the response is nil or has no choices.
func FirstChoice(resp *ChatResponse) (ChatChoice, error) {
	if resp == nil {
		return ChatChoice{}, fmt.Errorf("nil ChatResponse")
	}
	if len(resp.Choices) == 0 {
		return ChatChoice{}, fmt.Errorf("empty choices in ChatResponse (model returned no choices)")
	}
	return resp.Choices[0], nil
}

// IsPending reports whether the response is a background response that must be polled
// again with its continuation token.
func IsPending(resp *ChatResponse) bool {
	return resp != nil && resp.Status == StatusInProgress && resp.ContinuationToken != ""
}

// CollectStream drains a stream into a single assistant message.
// Tool calls from all chunks are concatenated; the last usage wins.
func CollectStream(chunks <-chan StreamChunk, onChunk func(StreamChunk)) (Message, *ChatUsage, error) {
	var (
		content strings.Builder
		msg     Message
		usage   *ChatUsage
	)
	for chunk := range chunks {
		if chunk.Err != nil {
			return Message{}, usage, chunk.Err
		}
		if onChunk != nil {
			onChunk(chunk)
		}
		if msg.Role == "" {
			msg.Role = chunk.Delta.Role
		}
		content.WriteString(chunk.Delta.Content)
		msg.ToolCalls = append(msg.ToolCalls, chunk.Delta.ToolCalls...)
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	msg.Content = content.String()
	return msg, usage, nil
}
