package inference

// Message is one chat turn in the request payload.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /chat/completions.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model"`
	Stream   bool      `json:"stream"`
}

// ChatResponse is the non-streaming completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

// Choice is one completion alternative.
type Choice struct {
	Message *ChoiceMessage `json:"message"`
}

// ChoiceMessage holds the generated text.
type ChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Content returns the first choice's text. A missing choice, message or
// empty content is ErrMalformedResponse.
func (r *ChatResponse) Content() (string, error) {
	if len(r.Choices) == 0 || r.Choices[0].Message == nil || r.Choices[0].Message.Content == "" {
		return "", ErrMalformedResponse
	}
	return r.Choices[0].Message.Content, nil
}
