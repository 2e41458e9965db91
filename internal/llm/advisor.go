package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rezonia/vat-compliance/internal/model"
)

// Advisor asks a language model for free-text compliance advisories.
// Reviews run on the client's default model.
type Advisor struct {
	client *Client
}

// NewAdvisor creates a new advisor
func NewAdvisor(client *Client) *Advisor {
	return &Advisor{client: client}
}

type advisoryResponse struct {
	Advisories []struct {
		Reason string `json:"reason"`
	} `json:"advisories"`
}

// Review returns the reasons the model flagged for inv. Invoices without a
// description are skipped without a call.
func (a *Advisor) Review(ctx context.Context, inv *model.Invoice) ([]string, error) {
	if strings.TrimSpace(inv.Description) == "" {
		return nil, nil
	}

	prompt := fmt.Sprintf(UserPromptAdvisor,
		inv.ID,
		inv.CustomerCountry,
		inv.ProductType,
		inv.NetAmount.StringFixed(2),
		inv.Description,
	)

	response, err := a.client.ChatText(ctx, "", SystemPromptAdvisor, prompt)
	if err != nil {
		return nil, err
	}

	var parsed advisoryResponse
	if err := json.Unmarshal([]byte(ExtractJSON(response)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse advisory response: %w", err)
	}

	reasons := make([]string, 0, len(parsed.Advisories))
	for _, adv := range parsed.Advisories {
		if r := strings.TrimSpace(adv.Reason); r != "" {
			reasons = append(reasons, r)
		}
	}
	return reasons, nil
}
