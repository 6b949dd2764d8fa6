package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/anotherai-dev/anotherai/internal/modelcatalog"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

// Bedrock serves Anthropic models through AWS. It reuses the Anthropic wire
// format (the bedrock invoke body is the messages API minus the model and
// stream fields) and signs requests with SigV4. Streaming uses the AWS
// binary event-stream framing rather than SSE, so the adapter is unary-only.
type Bedrock struct {
	Anthropic
	region      string
	credentials aws.CredentialsProvider
	signer      *v4.Signer
}

// NewBedrock builds the Bedrock adapter. With empty accessKey the default
// AWS credential chain is used.
func NewBedrock(region, accessKey, secretKey string) *Bedrock {
	p := &Bedrock{
		region: region,
		signer: v4.NewSigner(),
	}
	p.base = base{
		name: "bedrock",
		errorTable: []errorPattern{
			pattern(`(?i)ThrottlingException|Too many requests`, KindRateLimit),
			pattern(`(?i)AccessDeniedException|UnrecognizedClientException`, KindInvalidProviderConfig),
			pattern(`(?i)input is too long`, KindMaxTokensExceeded),
		},
	}
	if accessKey != "" {
		p.credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
	} else if cfg, err := awsconfig.LoadDefaultConfig(context.Background()); err == nil {
		p.credentials = cfg.Credentials
	}
	return p
}

func (p *Bedrock) Name() string { return "bedrock" }

func (p *Bedrock) DefaultModel() string { return "anthropic.claude-sonnet-4-20250514-v1:0" }

func (p *Bedrock) SupportsModel(model string) bool {
	if data, ok := modelcatalog.Get(model); ok {
		return data.Provider == "bedrock"
	}
	return strings.HasPrefix(model, "anthropic.") || strings.HasPrefix(model, "us.anthropic.")
}

func (p *Bedrock) IsStreamable(model string, hasTools bool) bool { return false }

func (p *Bedrock) RequestURL(model string, stream bool) (string, error) {
	if p.region == "" {
		return "", p.invalidConfig("aws region is not configured")
	}
	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/invoke", p.region, model), nil
}

func (p *Bedrock) RequestHeaders(body []byte, url, model string) (http.Header, error) {
	if p.credentials == nil {
		return nil, p.invalidConfig("aws credentials are not configured")
	}
	creds, err := p.credentials.Retrieve(context.Background())
	if err != nil {
		return nil, p.invalidConfig("aws credentials: " + err.Error())
	}
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])
	if err := p.signer.SignHTTP(context.Background(), creds, req, payloadHash,
		"bedrock", p.region, time.Now()); err != nil {
		return nil, p.invalidConfig("sigv4 signing: " + err.Error())
	}
	return req.Header, nil
}

func (p *Bedrock) BuildRequest(messages []models.Message, opts Options, stream bool) (any, error) {
	if stream {
		return nil, NewError(KindModelDoesNotSupportMode, "bedrock", opts.Model, "bedrock adapter does not stream")
	}
	built, err := p.Anthropic.BuildRequest(messages, opts, false)
	if err != nil {
		return nil, err
	}
	req := built.(*anthropicRequest)
	req.Model = ""
	req.Stream = false
	return &bedrockInvokeRequest{anthropicRequest: *req, AnthropicVersion: "bedrock-2023-05-31"}, nil
}

type bedrockInvokeRequest struct {
	anthropicRequest
	AnthropicVersion string `json:"anthropic_version"`
}
