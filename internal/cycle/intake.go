package cycle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// IntakeClient talks to the external daily feed consumption calculator over
// HTTP. The calculator owns the growth-curve algorithm; this client only
// carries the cycle's observable attributes across and an opaque amount back.
type IntakeClient struct {
	client *resty.Client
}

// NewIntakeClient builds a client for the calculator at baseURL.
func NewIntakeClient(baseURL string) *IntakeClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2)
	return &IntakeClient{client: client}
}

type intakeRequest struct {
	Doc       int `json:"doc"`
	Age       int `json:"age"`
	Mortality int `json:"mortality"`
}

type intakeResponse struct {
	Intake string `json:"intake"`
}

// CumulativeIntake implements IntakeSource.
func (c *IntakeClient) CumulativeIntake(ctx context.Context, cyc Cycle) (decimal.Decimal, error) {
	var result intakeResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(intakeRequest{Doc: cyc.Doc, Age: ageOf(cyc), Mortality: cyc.Mortality}).
		SetResult(&result).
		Post("/v1/intake")
	if err != nil {
		return decimal.Zero, fmt.Errorf("cycle: intake calculator: %w", err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("cycle: intake calculator returned %s", resp.Status())
	}
	amount, err := decimal.NewFromString(result.Intake)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cycle: parse intake %q: %w", result.Intake, err)
	}
	return amount, nil
}
