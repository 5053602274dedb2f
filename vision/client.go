package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/apex/log"
)

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

// knownSpecies is the set of animal labels we accept as suggestions.
var knownSpecies = []string{
	"dog", "cat", "cattle", "cow", "monkey", "deer", "canine", "feline", "bird",
}

type message struct {
	Role    string        `json:"role"`
	Content []contentItem `json:"content"`
}

type contentItem struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Client suggests an animal species from an incident photo using the
// OpenAI vision API.
type Client struct {
	apiKey string
	model  string
	client *http.Client
}

// NewClient creates a new species suggestion client
func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{},
	}
}

// SuggestSpecies asks the vision model to identify the animal in the
// image. Returns an empty string when the model cannot name a known
// species. The caller bounds the call with the context deadline.
func (c *Client) SuggestSpecies(ctx context.Context, image []byte) (string, error) {
	dataURL := fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(image))

	prompt := fmt.Sprintf(`Identify the animal in this photo.
Answer with a single lowercase word naming the animal, choosing from: %s.
If no animal from that list is visible, answer exactly "unknown".`,
		strings.Join(knownSpecies, ", "))

	reqBody := chatRequest{
		Model: c.model,
		Messages: []message{
			{
				Role: "user",
				Content: []contentItem{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
				},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", openAIEndpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call vision API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vision API returned status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("vision API returned no choices")
	}

	answer := strings.ToLower(strings.TrimSpace(chatResp.Choices[0].Message.Content))
	for _, species := range knownSpecies {
		if answer == species {
			return strings.ToUpper(species[:1]) + species[1:], nil
		}
	}

	log.Debugf("Vision model answer %q matched no known species", answer)
	return "", nil
}
