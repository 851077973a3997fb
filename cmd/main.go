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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/switchyard-finance/switchyard"
	"github.com/switchyard-finance/switchyard/config"
	"github.com/switchyard-finance/switchyard/database"
	"github.com/switchyard-finance/switchyard/model"
)

// Switchyard represents the CLI application, encapsulating the root command.
type Switchyard struct {
	cmd *cobra.Command
}

// switchyardInstance holds the orchestrator and its configuration for use by
// subcommands.
type switchyardInstance struct {
	switchyard *switchyard.Switchyard
	cnf        *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and wires the orchestrator before any
// subcommand executes.
func preRun(app *switchyardInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("switchyard.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newSwitchyard, err := setupSwitchyard(cnf)
		if err != nil {
			log.Fatal(err)
		}

		app.switchyard = newSwitchyard
		app.cnf = cnf

		return nil
	}
}

// setupSwitchyard connects the ledger datasource, wires the orchestrator and
// registers a gateway for every rail with configured credentials.
func setupSwitchyard(cfg *config.Configuration) (*switchyard.Switchyard, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newSwitchyard, err := switchyard.NewSwitchyard(db)
	if err != nil {
		return nil, fmt.Errorf("error creating switchyard: %v", err)
	}

	for _, rail := range model.AllRails {
		gw, ok := cfg.Gateways[string(rail)]
		if !ok {
			continue
		}
		newSwitchyard.RegisterDispatcher(switchyard.NewHTTPGateway(rail, gw.Endpoint, gw.APIKey))
	}
	return newSwitchyard, nil
}

// NewCLI creates the command-line interface for the switchyard application.
func NewCLI() *Switchyard {
	var configFile string
	b := &switchyardInstance{}

	var rootCmd = &cobra.Command{
		Use:   "switchyard",
		Short: "Multi-rail settlement router",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./switchyard.json", "Configuration file for the settlement router")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(settleCommands(b))
	rootCmd.AddCommand(auditCommands(b))

	return &Switchyard{cmd: rootCmd}
}

func (w Switchyard) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
