package chat

import (
	"fmt"

	"google.golang.org/genai"
)

// ExtractText returns candidates[0].content.parts[0].text. Any other shape,
// including an empty string, is an *ExtractionError.
func ExtractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", &ExtractionError{Reason: "empty response"}
	}
	if len(resp.Candidates) == 0 {
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			return "", &ExtractionError{Reason: fmt.Sprintf("no candidates (prompt blocked: %s)", fb.BlockReason)}
		}
		return "", &ExtractionError{Reason: "no candidates"}
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return "", &ExtractionError{Reason: "first candidate has no content"}
	}
	if len(cand.Content.Parts) == 0 || cand.Content.Parts[0] == nil {
		return "", &ExtractionError{Reason: "first candidate has no parts"}
	}
	text := cand.Content.Parts[0].Text
	if text == "" {
		return "", &ExtractionError{Reason: "first part has no text"}
	}
	return text, nil
}
