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
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/switchyard-finance/switchyard/audit"
	"github.com/switchyard-finance/switchyard/model"
)

// auditCommands defines the "audit" command group for the tamper-evident
// journal. "audit verify" replays a day's chain; a broken chain exits
// non-zero so it can gate deploy and backup jobs.
func auditCommands(b *switchyardInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "audit journal operations",
	}

	var day string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "verify a day's audit chain",
		Run: func(cmd *cobra.Command, args []string) {
			if day == "" {
				day = model.DayKey(time.Now())
			}

			ok, err := b.switchyard.VerifyAuditDay(day)
			if err != nil {
				var verifyErr audit.VerifyError
				if errors.As(err, &verifyErr) {
					fmt.Printf("audit chain for %s is BROKEN: %s\n", day, verifyErr)
					os.Exit(1)
				}
				if os.IsNotExist(err) {
					fmt.Printf("no audit file for %s\n", day)
					os.Exit(1)
				}
				log.Fatal(err)
			}
			if !ok {
				fmt.Printf("audit chain for %s is BROKEN\n", day)
				os.Exit(1)
			}
			fmt.Printf("audit chain for %s is intact\n", day)
		},
	}
	verify.Flags().StringVar(&day, "day", "", "calendar day to verify, YYYY-MM-DD (defaults to today)")

	cmd.AddCommand(verify)
	return cmd
}
