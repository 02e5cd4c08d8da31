package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/devicefleet/mitmcore/internal/domain"
	"github.com/devicefleet/mitmcore/internal/screen"
)

// OCRClient is an Analyzer backed by an OCR sidecar that reads screenshots
// from a shared directory. Every call is one JSON POST.
type OCRClient struct {
	endpoint string
	client   *http.Client
}

var _ screen.Analyzer = (*OCRClient)(nil)

// NewOCRClient creates a client for the sidecar at endpoint.
func NewOCRClient(endpoint string) *OCRClient {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8081"
	}
	return &OCRClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type ocrRequest struct {
	Path     string  `json:"path"`
	Origin   string  `json:"origin,omitempty"`
	YOffset  int     `json:"y_offset,omitempty"`
	MinRatio float64 `json:"min_ratio,omitempty"`
	MaxRatio float64 `json:"max_ratio,omitempty"`
	Upper    bool    `json:"upper,omitempty"`
}

type ocrBox struct {
	Text   string `json:"text"`
	Left   int    `json:"left"`
	Top    int    `json:"top"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type analyzeResponse struct {
	ScreenType  string   `json:"screen_type"`
	Boxes       []ocrBox `json:"boxes"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	ScaleFactor float64  `json:"scale_factor"`
}

type textResponse struct {
	Boxes []ocrBox `json:"boxes"`
}

type colourResponse struct {
	Found bool `json:"found"`
	R     int  `json:"r"`
	G     int  `json:"g"`
	B     int  `json:"b"`
}

type buttonResponse struct {
	Found bool `json:"found"`
	X     int  `json:"x"`
	Y     int  `json:"y"`
}

func (c *OCRClient) post(ctx context.Context, route string, in ocrRequest, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+route, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.WrapEngineError(domain.ErrAnalyzer.Code, domain.ErrAnalyzer.Message, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.WrapEngineError(domain.ErrAnalyzer.Code, domain.ErrAnalyzer.Message,
			fmt.Errorf("%s returned status %d: %s", route, resp.StatusCode, bytes.TrimSpace(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.WrapEngineError(domain.ErrAnalyzer.Code, domain.ErrAnalyzer.Message, fmt.Errorf("decode %s: %w", route, err))
	}
	return nil
}

func toTextBoxes(in []ocrBox) []domain.TextBox {
	out := make([]domain.TextBox, len(in))
	for i, b := range in {
		out[i] = domain.TextBox{Text: b.Text, Left: b.Left, Top: b.Top, Width: b.Width, Height: b.Height}
	}
	return out
}

func (c *OCRClient) AnalyzeScreen(ctx context.Context, path, origin string) (*domain.RecognitionResult, error) {
	var resp analyzeResponse
	if err := c.post(ctx, "/analyze", ocrRequest{Path: path, Origin: origin}, &resp); err != nil {
		return nil, err
	}
	screenType := domain.ScreenType(resp.ScreenType)
	if screenType == "" {
		screenType = domain.ScreenUndefined
	}
	return &domain.RecognitionResult{
		ScreenType:  screenType,
		TextBoxes:   toTextBoxes(resp.Boxes),
		Width:       resp.Width,
		Height:      resp.Height,
		ScaleFactor: resp.ScaleFactor,
	}, nil
}

func (c *OCRClient) ScreenText(ctx context.Context, path, origin string) ([]domain.TextBox, error) {
	var resp textResponse
	if err := c.post(ctx, "/text", ocrRequest{Path: path, Origin: origin}, &resp); err != nil {
		return nil, err
	}
	return toTextBoxes(resp.Boxes), nil
}

func (c *OCRClient) MostFrequentColour(ctx context.Context, path, origin string, yOffset int) (*domain.RGB, error) {
	var resp colourResponse
	if err := c.post(ctx, "/colour", ocrRequest{Path: path, Origin: origin, YOffset: yOffset}, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	return &domain.RGB{R: resp.R, G: resp.G, B: resp.B}, nil
}

func (c *OCRClient) LookForButton(ctx context.Context, path string, minRatio, maxRatio float64, upper bool) (*domain.Point, error) {
	var resp buttonResponse
	req := ocrRequest{Path: path, MinRatio: minRatio, MaxRatio: maxRatio, Upper: upper}
	if err := c.post(ctx, "/button", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	return &domain.Point{X: resp.X, Y: resp.Y}, nil
}
