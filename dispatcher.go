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
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/switchyard-finance/switchyard/model"
)

// Dispatch statuses reported by gateway providers.
const (
	DispatchInTransit  = "IN_TRANSIT"
	DispatchProcessing = "PROCESSING"
	DispatchError      = "ERROR"
)

// TransferRequest is the uniform payload handed to every rail gateway.
type TransferRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
	Reference   string `json:"reference"`
}

// DispatchResult is the uniform gateway response.
type DispatchResult struct {
	Status           string                 `json:"status"`
	ProviderResponse map[string]interface{} `json:"provider_response,omitempty"`
}

// GatewayError is the typed error returned by gateway adapters. Retryable
// distinguishes transient provider failures from terminal ones (validation
// errors, rejected transfers); the orchestrator relies on this flag rather
// than inspecting error text.
type GatewayError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// GatewayDispatcher is the per-rail "execute transfer" contract. Concrete
// adapters wrap the provider's HTTP API; this core treats them as external
// collaborators.
type GatewayDispatcher interface {
	Rail() model.Rail
	Execute(ctx context.Context, transfers []TransferRequest) (*DispatchResult, error)
}

// dispatchWithRetry wraps a gateway call in a bounded retry policy:
// exponential backoff with jitter between attempts, capped at maxAttempts.
// Errors the gateway marks non-retryable stop the loop immediately.
func dispatchWithRetry(ctx context.Context, dispatcher GatewayDispatcher, transfers []TransferRequest, maxAttempts int) (*DispatchResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(200*time.Millisecond),
			backoff.WithMaxInterval(5*time.Second),
		), uint64(maxAttempts-1)),
		ctx,
	)

	var result *DispatchResult
	operation := func() error {
		res, err := dispatcher.Execute(ctx, transfers)
		if err != nil {
			var gwErr *GatewayError
			if errors.As(err, &gwErr) && !gwErr.Retryable {
				return backoff.Permanent(err)
			}
			logrus.Warnf("dispatch to %s failed, will retry: %v", dispatcher.Rail(), err)
			return err
		}
		if res.Status == DispatchError {
			return backoff.Permanent(&GatewayError{Code: "PROVIDER_ERROR", Message: "provider returned error status", Retryable: false})
		}
		result = res
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return result, nil
}
