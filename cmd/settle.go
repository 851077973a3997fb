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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/switchyard-finance/switchyard"
)

// settleCommands defines the "settle" command: a one-shot settlement run
// from the terminal, printing the step list as JSON.
func settleCommands(b *switchyardInstance) *cobra.Command {
	var amount int64
	var currency string
	var destination string
	var reference string
	var idempotencyKey string

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "route and execute a settlement",
		Run: func(cmd *cobra.Command, args []string) {
			if idempotencyKey == "" {
				idempotencyKey = uuid.New().String()
			}

			steps, err := b.switchyard.RouteAndExecute(context.Background(), switchyard.SettlementRequest{
				Amount:         amount,
				Currency:       currency,
				Destination:    destination,
				Reference:      reference,
				IdempotencyKey: idempotencyKey,
			})
			if err != nil {
				log.Fatal(err)
			}

			out, err := json.MarshalIndent(steps, "", "  ")
			if err != nil {
				log.Fatal(err)
			}
			fmt.Println(string(out))
		},
	}

	cmd.Flags().Int64Var(&amount, "amount", 0, "amount in currency minor units")
	cmd.Flags().StringVar(&currency, "currency", "USD", "ISO currency code")
	cmd.Flags().StringVar(&destination, "destination", "", "destination account identifier")
	cmd.Flags().StringVar(&reference, "reference", "", "settlement reference (generated when empty)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "idempotency key (generated when empty)")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}
