/*
Copyright 2025 Switchyard Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package switchyard

import (
	"context"
	"fmt"
	"net/http"

	"github.com/switchyard-finance/switchyard/internal/request"
	"github.com/switchyard-finance/switchyard/model"
)

// HTTPGateway dispatches transfers to a provider's settlement endpoint over
// HTTP. One instance per rail; the endpoint and credentials come from
// deployment configuration.
type HTTPGateway struct {
	rail     model.Rail
	endpoint string
	apiKey   string
}

func NewHTTPGateway(rail model.Rail, endpoint, apiKey string) *HTTPGateway {
	return &HTTPGateway{rail: rail, endpoint: endpoint, apiKey: apiKey}
}

func (g *HTTPGateway) Rail() model.Rail {
	return g.rail
}

type gatewayPayload struct {
	Rail      model.Rail        `json:"rail"`
	Transfers []TransferRequest `json:"transfers"`
}

type gatewayResponse struct {
	Status   string                 `json:"status"`
	Provider map[string]interface{} `json:"provider_response"`
	Message  string                 `json:"message"`
}

// Execute posts the transfer batch to the provider. HTTP 5xx and transport
// failures map to retryable gateway errors, 4xx to terminal ones.
func (g *HTTPGateway) Execute(ctx context.Context, transfers []TransferRequest) (*DispatchResult, error) {
	body, err := request.ToJsonReq(gatewayPayload{Rail: g.rail, Transfers: transfers})
	if err != nil {
		return nil, &GatewayError{Code: "ENCODE_FAILED", Message: err.Error(), Retryable: false}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, body)
	if err != nil {
		return nil, &GatewayError{Code: "REQUEST_FAILED", Message: err.Error(), Retryable: false}
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	var decoded gatewayResponse
	resp, err := request.Call(req, &decoded)
	if err != nil {
		return nil, &GatewayError{Code: "NETWORK_ERROR", Message: err.Error(), Retryable: true}
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &GatewayError{
			Code:      "PROVIDER_UNAVAILABLE",
			Message:   fmt.Sprintf("provider returned %d", resp.StatusCode),
			Retryable: true,
		}
	case resp.StatusCode >= 400:
		return nil, &GatewayError{
			Code:      "REJECTED",
			Message:   fmt.Sprintf("provider rejected transfer (%d): %s", resp.StatusCode, decoded.Message),
			Retryable: false,
		}
	}

	status := decoded.Status
	if status == "" {
		status = DispatchProcessing
	}
	return &DispatchResult{Status: status, ProviderResponse: decoded.Provider}, nil
}
