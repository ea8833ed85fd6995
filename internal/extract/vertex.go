package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"doc-queue/internal/models"
)

const vertexSystemPrompt = "You extract structured data from invoice text. Respond with a single JSON object and nothing else."

const vertexUserPrompt = `Extract invoice data from the text below. Return a JSON object with the keys
customerName, customerEmail, invoiceNumber, invoiceDate (YYYY-MM-DD), totalAmount (number),
currency (ISO 4217 code) and extractionConfidence (0-100, how sure you are of the extraction).
Use null for any field that is not present.

Text:
`

// VertexExtractor asks a Gemini model on Vertex AI for the invoice fields
type VertexExtractor struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewVertexExtractor creates a client for the given project and region
func NewVertexExtractor(ctx context.Context, projectID, region, modelName string) (*VertexExtractor, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("projectID and region cannot be empty")
	}

	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(vertexSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &VertexExtractor{client: client, model: model}, nil
}

// Close releases the underlying client
func (v *VertexExtractor) Close() error {
	return v.client.Close()
}

func (v *VertexExtractor) ExtractMetadata(ctx context.Context, text string) (*models.InvoiceMetadata, error) {
	resp, err := v.model.GenerateContent(ctx, genai.Text(vertexUserPrompt+text))
	if err != nil {
		return nil, &ServiceError{Service: "vertex", Message: err.Error()}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &ServiceError{Service: "vertex", Message: "empty response"}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}

	return decodeMetadata([]byte(sb.String()))
}

// decodeMetadata validates and decodes a model response. Confidence may come back
// fractional so it is rounded.
func decodeMetadata(data []byte) (*models.InvoiceMetadata, error) {
	if err := ValidateMetadata(data); err != nil {
		return nil, err
	}

	var raw struct {
		CustomerName         *string  `json:"customerName"`
		CustomerEmail        *string  `json:"customerEmail"`
		InvoiceNumber        *string  `json:"invoiceNumber"`
		InvoiceDate          *string  `json:"invoiceDate"`
		TotalAmount          *float64 `json:"totalAmount"`
		Currency             *string  `json:"currency"`
		ExtractionConfidence float64  `json:"extractionConfidence"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	return &models.InvoiceMetadata{
		CustomerName:         raw.CustomerName,
		CustomerEmail:        raw.CustomerEmail,
		InvoiceNumber:        raw.InvoiceNumber,
		InvoiceDate:          raw.InvoiceDate,
		TotalAmount:          raw.TotalAmount,
		Currency:             raw.Currency,
		ExtractionConfidence: int(math.Round(raw.ExtractionConfidence)),
	}, nil
}
