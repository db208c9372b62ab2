package provider

import (
	"encoding/json"
	"fmt"

	"genserver/internal/domain"
)

// Family is one entry of the model strategy table. Each variant owns the
// request shape and response parsing for one provider model family; adding a
// provider model means adding one variant here.
type Family interface {
	Name() string
	Output() domain.OutputKind
	Cost(quantity int) int64
	BuildRequest(p domain.GenerationPrompt, taskUUID, webhookURL string) map[string]any
	ParseResponse(body []byte) (*DispatchResult, error)
}

// families is keyed by the model identifier accepted in requests.
var families = map[string]Family{
	"flux-schnell": imageFamily{model: "flux-schnell", costPerImage: 5},
	"flux-dev":     imageFamily{model: "flux-dev", costPerImage: 10},
	"sdxl-turbo":   imageFamily{model: "sdxl-turbo", costPerImage: 5},
	"kling-lite":   videoFamily{model: "kling-lite", costPerClip: 50},
	"veo-standard": videoFamily{model: "veo-standard", costPerClip: 80},
}

// FamilyFor resolves the strategy variant for a model identifier.
func FamilyFor(model string) (Family, error) {
	family, ok := families[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedModel, model)
	}
	return family, nil
}

// Cost returns the fixed price of a job before submission.
func Cost(model string, quantity int) (int64, error) {
	family, err := FamilyFor(model)
	if err != nil {
		return 0, err
	}
	if quantity < 1 {
		quantity = 1
	}
	return family.Cost(quantity), nil
}

// dispatchResponse covers both completion modes of the dispatch endpoint:
// data is present on the synchronous path, taskUUID alone means the task was
// accepted for asynchronous completion.
type dispatchResponse struct {
	TaskUUID string `json:"taskUUID"`
	Data     []struct {
		ImageURL string `json:"imageURL"`
		VideoURL string `json:"videoURL"`
	} `json:"data"`
}

type imageFamily struct {
	model        string
	costPerImage int64
}

func (f imageFamily) Name() string              { return f.model }
func (f imageFamily) Output() domain.OutputKind { return domain.OutputImage }

func (f imageFamily) Cost(quantity int) int64 {
	return f.costPerImage * int64(quantity)
}

func (f imageFamily) BuildRequest(p domain.GenerationPrompt, taskUUID, webhookURL string) map[string]any {
	req := map[string]any{
		"taskType":       "imageInference",
		"taskUUID":       taskUUID,
		"positivePrompt": p.Text,
		"model":          f.model,
		"width":          p.Width,
		"height":         p.Height,
		"numberResults":  p.Quantity,
		"outputType":     "URL",
	}
	if p.NegativeText != "" {
		req["negativePrompt"] = p.NegativeText
	}
	if webhookURL != "" {
		req["webhookURL"] = webhookURL
	}
	return req
}

func (f imageFamily) ParseResponse(body []byte) (*DispatchResult, error) {
	var resp dispatchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Code: CodeUnknown, Message: "malformed dispatch response"}
	}
	if len(resp.Data) > 0 {
		urls := make([]string, 0, len(resp.Data))
		for _, item := range resp.Data {
			if item.ImageURL != "" {
				urls = append(urls, item.ImageURL)
			}
		}
		if len(urls) == 0 {
			return nil, &Error{Code: CodeUnknown, Message: "dispatch data without image URLs"}
		}
		return &DispatchResult{Sync: true, ResultRef: resultRef(urls)}, nil
	}
	if resp.TaskUUID != "" {
		return &DispatchResult{TaskID: resp.TaskUUID}, nil
	}
	return nil, &Error{Code: CodeUnknown, Message: "empty dispatch response"}
}

type videoFamily struct {
	model       string
	costPerClip int64
}

func (f videoFamily) Name() string              { return f.model }
func (f videoFamily) Output() domain.OutputKind { return domain.OutputVideo }

func (f videoFamily) Cost(int) int64 {
	// One clip per task regardless of requested quantity.
	return f.costPerClip
}

func (f videoFamily) BuildRequest(p domain.GenerationPrompt, taskUUID, webhookURL string) map[string]any {
	req := map[string]any{
		"taskType":       "videoInference",
		"taskUUID":       taskUUID,
		"positivePrompt": p.Text,
		"model":          f.model,
		"width":          p.Width,
		"height":         p.Height,
		"numberResults":  1,
		"outputType":     "URL",
	}
	if webhookURL != "" {
		req["webhookURL"] = webhookURL
	}
	return req
}

func (f videoFamily) ParseResponse(body []byte) (*DispatchResult, error) {
	var resp dispatchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Code: CodeUnknown, Message: "malformed dispatch response"}
	}
	if len(resp.Data) > 0 && resp.Data[0].VideoURL != "" {
		return &DispatchResult{Sync: true, ResultRef: resp.Data[0].VideoURL}, nil
	}
	if resp.TaskUUID != "" {
		return &DispatchResult{TaskID: resp.TaskUUID}, nil
	}
	return nil, &Error{Code: CodeUnknown, Message: "empty dispatch response"}
}

// resultRef packs artifact URLs into the opaque result reference stored on
// the job: a bare URL for single results, a JSON array otherwise.
func resultRef(urls []string) string {
	if len(urls) == 1 {
		return urls[0]
	}
	encoded, err := json.Marshal(urls)
	if err != nil {
		return urls[0]
	}
	return string(encoded)
}
