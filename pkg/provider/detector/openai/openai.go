// Package openai provides a detector provider backed by an OpenAI vision model.
//
// Each frame is sent as an inline data URL together with an instruction to
// answer with a JSON object listing the objects (or text elements) found and
// their bounding boxes in normalised [0,1] coordinates. The boxes are scaled
// back to raw frame pixels before being returned; the frame rotation is left
// to the display mapping.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/makeabledk/firebasevision/pkg/provider/detector"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// Compile-time interface assertion.
var _ detector.Provider = (*Provider)(nil)

const (
	defaultDetail    = "low"
	defaultMaxTokens = 1024

	defaultInstruction = "Detect the salient objects and any legible text in the image. " +
		`Respond only with JSON of the form {"detections":[{"label":string,"text":string,` +
		`"confidence":number,"box":[left,top,right,bottom]}]} where box coordinates are ` +
		"fractions of the image width and height in the range 0 to 1."
)

// Provider implements detector.Provider using the OpenAI chat completions API
// with image input.
type Provider struct {
	client      oai.Client
	model       string
	instruction string
	detail      string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL     string
	timeout     time.Duration
	instruction string
	detail      string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible servers hosting a local vision model.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithInstruction replaces the default detection instruction. The model must
// still answer in the documented JSON shape.
func WithInstruction(s string) Option {
	return func(c *config) {
		c.instruction = s
	}
}

// WithDetail sets the image detail level ("low", "high" or "auto").
func WithDetail(d string) Option {
	return func(c *config) {
		c.detail = d
	}
}

// New constructs a new OpenAI detector Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{
		instruction: defaultInstruction,
		detail:      defaultDetail,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:      oai.NewClient(reqOpts...),
		model:       model,
		instruction: cfg.instruction,
		detail:      cfg.detail,
	}, nil
}

// Detect implements detector.Provider.
func (p *Provider) Detect(ctx context.Context, frame types.Frame) (*types.DetectionResult, error) {
	if len(frame.Data) == 0 {
		return nil, detector.ErrEmptyFrame
	}

	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(frame))
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	dets, err := parseDetections(resp.Choices[0].Message.Content, frame.Metadata)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return &types.DetectionResult{
		Detections: dets,
		Frame:      frame.Metadata,
		Provider:   "openai",
	}, nil
}

// buildParams converts a frame into OpenAI SDK params.
func (p *Provider) buildParams(frame types.Frame) oai.ChatCompletionNewParams {
	parts := []oai.ChatCompletionContentPartUnionParam{
		oai.TextContentPart(p.instruction),
		oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
			URL:    dataURL(frame.Data),
			Detail: p.detail,
		}),
	}
	return oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(p.model),
		Messages:            []oai.ChatCompletionMessageParamUnion{oai.UserMessage(parts)},
		MaxCompletionTokens: param.NewOpt(int64(defaultMaxTokens)),
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
}

// dataURL encodes an image buffer as a base64 data URL, sniffing its MIME type.
func dataURL(data []byte) string {
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// modelAnswer is the JSON shape the model is instructed to produce.
type modelAnswer struct {
	Detections []struct {
		Label      string    `json:"label"`
		Text       string    `json:"text"`
		Confidence float64   `json:"confidence"`
		Box        []float64 `json:"box"`
	} `json:"detections"`
}

// parseDetections decodes the model answer and scales normalised boxes to the
// frame's pixel dimensions. Entries with a malformed box are skipped.
func parseDetections(content string, meta types.FrameMetadata) ([]types.Detection, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var ans modelAnswer
	if err := json.Unmarshal([]byte(content), &ans); err != nil {
		return nil, fmt.Errorf("decode model answer: %w", err)
	}

	w, h := float64(meta.Width), float64(meta.Height)
	out := make([]types.Detection, 0, len(ans.Detections))
	for _, d := range ans.Detections {
		if len(d.Box) != 4 {
			continue
		}
		box := types.Rect{
			Left:   clamp01(d.Box[0]) * w,
			Top:    clamp01(d.Box[1]) * h,
			Right:  clamp01(d.Box[2]) * w,
			Bottom: clamp01(d.Box[3]) * h,
		}.Canon()
		out = append(out, types.Detection{
			Label:      d.Label,
			Text:       d.Text,
			Confidence: d.Confidence,
			Box:        box,
		})
	}
	return out, nil
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
