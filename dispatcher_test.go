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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-finance/switchyard/model"
)

func TestDispatchWithRetryEventualSuccess(t *testing.T) {
	attempts := 0
	dispatcher := &mockDispatcher{
		rail: model.RailBankWire,
		execute: func(ctx context.Context, transfers []TransferRequest) (*DispatchResult, error) {
			attempts++
			if attempts < 3 {
				return nil, &GatewayError{Code: "PROVIDER_UNAVAILABLE", Message: "503", Retryable: true}
			}
			return &DispatchResult{Status: DispatchInTransit}, nil
		},
	}

	result, err := dispatchWithRetry(context.Background(), dispatcher, nil, 3)
	require.NoError(t, err)
	assert.Equal(t, DispatchInTransit, result.Status)
	assert.Equal(t, 3, attempts)
}

func TestDispatchWithRetryExhaustsAttempts(t *testing.T) {
	dispatcher := &mockDispatcher{
		rail: model.RailBankWire,
		execute: func(ctx context.Context, transfers []TransferRequest) (*DispatchResult, error) {
			return nil, &GatewayError{Code: "NETWORK_ERROR", Message: "timeout", Retryable: true}
		},
	}

	_, err := dispatchWithRetry(context.Background(), dispatcher, nil, 3)
	require.Error(t, err)
	assert.Equal(t, 3, dispatcher.callCount())
}

func TestDispatchWithRetryStopsOnTerminalError(t *testing.T) {
	dispatcher := &mockDispatcher{
		rail: model.RailBankWire,
		execute: func(ctx context.Context, transfers []TransferRequest) (*DispatchResult, error) {
			return nil, &GatewayError{Code: "REJECTED", Message: "invalid destination", Retryable: false}
		},
	}

	_, err := dispatchWithRetry(context.Background(), dispatcher, nil, 5)
	require.Error(t, err)
	assert.Equal(t, 1, dispatcher.callCount())

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "REJECTED", gwErr.Code)
}

func TestDispatchWithRetryErrorStatusIsTerminal(t *testing.T) {
	dispatcher := &mockDispatcher{
		rail: model.RailBankWire,
		execute: func(ctx context.Context, transfers []TransferRequest) (*DispatchResult, error) {
			return &DispatchResult{Status: DispatchError}, nil
		},
	}

	_, err := dispatchWithRetry(context.Background(), dispatcher, nil, 5)
	require.Error(t, err)
	assert.Equal(t, 1, dispatcher.callCount())
}

func TestDispatchWithRetryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dispatcher := &mockDispatcher{
		rail: model.RailBankWire,
		execute: func(ctx context.Context, transfers []TransferRequest) (*DispatchResult, error) {
			return nil, &GatewayError{Code: "NETWORK_ERROR", Message: "timeout", Retryable: true}
		},
	}

	_, err := dispatchWithRetry(ctx, dispatcher, nil, 5)
	require.Error(t, err)
	assert.LessOrEqual(t, dispatcher.callCount(), 1)
}

func TestGatewayErrorMessage(t *testing.T) {
	err := &GatewayError{Code: "REJECTED", Message: "invalid destination"}
	assert.Equal(t, "REJECTED: invalid destination", err.Error())
}
