package generator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/choiwab/promptsmith/internal/adapters/breaker"
	"github.com/choiwab/promptsmith/internal/adapters/retry"
	"github.com/choiwab/promptsmith/internal/apperr"
	"github.com/choiwab/promptsmith/internal/logging"
)

// titanImageRequest mirrors Amazon Titan Image Generator's strict request
// shape for both TEXT_IMAGE and IMAGE_VARIATION task types.
type titanImageRequest struct {
	TaskType               string                  `json:"taskType"`
	TextToImageParams      *titanTextToImageParams `json:"textToImageParams,omitempty"`
	ImageVariationParams   *titanImageVariationParams `json:"imageVariationParams,omitempty"`
	ImageGenerationConfig  titanImageGenerationConfig `json:"imageGenerationConfig"`
}

type titanTextToImageParams struct {
	Text string `json:"text"`
}

type titanImageVariationParams struct {
	Text   string   `json:"text"`
	Images []string `json:"images"`
}

type titanImageGenerationConfig struct {
	NumberOfImages int     `json:"numberOfImages"`
	Quality        string  `json:"quality"`
	CfgScale       float64 `json:"cfgScale"`
	Height         int     `json:"height"`
	Width          int     `json:"width"`
}

type titanImageResponse struct {
	Images []string `json:"images"`
	Error  string   `json:"error"`
}

// BedrockClient calls Amazon Bedrock Runtime's InvokeModel for image
// generation, grounded on the teacher's AWS Bedrock wiring in
// itsneelabh-gomind/ai (providers/bedrock/client.go talks to Bedrock for
// text; this adapter targets Bedrock's image models the same way: one
// InvokeModel call per operation, strict JSON in and out).
type BedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
	logger  logging.Logger
	breaker *breaker.Breaker
}

// NewBedrockClient builds a BedrockClient for the given AWS region and
// Titan/Stability image model ID.
func NewBedrockClient(ctx context.Context, region, modelID string, logger logging.Logger) (*BedrockClient, error) {
	if logger == nil {
		logger = logging.NoOp{}
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("generator: loading AWS config: %w", err)
	}
	return &BedrockClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
		logger:  logger.With("adapters.generator.bedrock"),
		breaker: breaker.New("generator.bedrock", 5, 30*time.Second),
	}, nil
}

func (c *BedrockClient) TextToImage(ctx context.Context, prompt string) (*Result, error) {
	req := titanImageRequest{
		TaskType:          "TEXT_IMAGE",
		TextToImageParams: &titanTextToImageParams{Text: prompt},
		ImageGenerationConfig: titanImageGenerationConfig{
			NumberOfImages: 1,
			Quality:        "standard",
			CfgScale:       8.0,
			Height:         1024,
			Width:          1024,
		},
	}
	return c.invoke(ctx, "generator.text-to-image", req)
}

func (c *BedrockClient) ImageEdit(ctx context.Context, base []byte, prompt string) (*Result, error) {
	req := titanImageRequest{
		TaskType: "IMAGE_VARIATION",
		ImageVariationParams: &titanImageVariationParams{
			Text:   prompt,
			Images: []string{base64.StdEncoding.EncodeToString(base)},
		},
		ImageGenerationConfig: titanImageGenerationConfig{
			NumberOfImages: 1,
			Quality:        "standard",
			CfgScale:       8.0,
			Height:         1024,
			Width:          1024,
		},
	}
	return c.invoke(ctx, "generator.image-edit", req)
}

func (c *BedrockClient) invoke(ctx context.Context, op string, req titanImageRequest) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.New(apperr.CodeUpstreamError, op, fmt.Errorf("marshal request: %w", err))
	}

	result, err := retry.Do(ctx, 2, func(ctx context.Context) (*Result, error) {
		raw, err := c.breaker.Do(ctx, func(ctx context.Context) (interface{}, error) {
			out, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
				ModelId:     aws.String(c.modelID),
				ContentType: aws.String("application/json"),
				Accept:      aws.String("application/json"),
				Body:        body,
			})
			if err != nil {
				return nil, classifyBedrockError(op, err)
			}
			return out, nil
		})
		if err != nil {
			return nil, err
		}

		out := raw.(*bedrockruntime.InvokeModelOutput)
		var resp titanImageResponse
		if err := json.Unmarshal(out.Body, &resp); err != nil {
			return nil, retry.Wrap(apperr.New(apperr.CodeUpstreamError, op, fmt.Errorf("malformed response: %w", err)))
		}
		if resp.Error != "" {
			return nil, apperr.Newf(apperr.CodeUpstreamError, op, "bedrock error: %s", resp.Error)
		}
		if len(resp.Images) == 0 {
			return nil, apperr.Newf(apperr.CodeUpstreamError, op, "bedrock returned no images")
		}

		imgBytes, err := base64.StdEncoding.DecodeString(resp.Images[0])
		if err != nil {
			return nil, retry.Wrap(apperr.New(apperr.CodeUpstreamError, op, fmt.Errorf("decode image: %w", err)))
		}
		return &Result{ImageBytes: imgBytes, Ext: "png"}, nil
	})
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			return nil, apperr.New(apperr.CodeUpstreamError, op, err)
		}
		return nil, err
	}
	return result, nil
}

// classifyBedrockError maps the AWS SDK's error taxonomy onto the
// timeout/upstream-error/safety-rejection categories from spec §2 item 4.
func classifyBedrockError(op string, err error) error {
	var throttle *types.ThrottlingException
	if errors.As(err, &throttle) {
		return retry.Wrap(apperr.New(apperr.CodeUpstreamTimeout, op, err))
	}
	var validation *types.ValidationException
	if errors.As(err, &validation) {
		return apperr.New(apperr.CodeSafetyRejection, op, err)
	}
	var serviceErr *types.ModelTimeoutException
	if errors.As(err, &serviceErr) {
		return retry.Wrap(apperr.New(apperr.CodeUpstreamTimeout, op, err))
	}
	return retry.Wrap(apperr.New(apperr.CodeUpstreamError, op, err))
}
