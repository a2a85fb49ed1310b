package plan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var ErrGenerator = errors.New("plan: generator request failed")

type GenerateRequest struct {
	StartDate string  `json:"startDate" validate:"required,datetime=2006-01-02"`
	Weeks     int     `json:"weeks" validate:"required,min=1,max=16"`
	Goal      string  `json:"goal" validate:"max=500"`
	HoursWeek float64 `json:"hoursPerWeek" validate:"gte=0,lte=40"`
	FTP       float64 `json:"ftp" validate:"gte=0,lte=2500"`
}

// Generator streams a plan from the upstream producer into a Parser.
type Generator struct {
	url    string
	client *http.Client
}

func NewGenerator(url string, client *http.Client) *Generator {
	if client == nil {
		client = &http.Client{}
	}
	return &Generator{url: url, client: client}
}

// Stream blocks until the response ends. The returned Parser holds whatever was parsed, even
// when the stream broke off early.
func (g *Generator) Stream(ctx context.Context, req GenerateRequest, obs Observer) (*Parser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrGenerator, resp.StatusCode, bytes.TrimSpace(msg))
	}

	p := NewParser(obs)
	_, copyErr := io.Copy(p, resp.Body)
	_ = p.Close()
	if copyErr != nil {
		return p, fmt.Errorf("%w: stream interrupted: %v", ErrGenerator, copyErr)
	}
	return p, nil
}
