// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command maestro is the CLI for the maestro multi-agent orchestrator.
//
// Usage:
//
//	maestro serve --config maestro.yaml
//	maestro run --config maestro.yaml "summarize the quarterly numbers"
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/kadirpekel/maestro/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP task server."`
	Run     RunCmd     `cmd:"" help:"Run a single task and print the result."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (text or json)." default:"text"`
	EnvFile   string `name:"env" help:"Path to a .env file to load before config."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("maestro version %s\n", version)
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("maestro"),
		kong.Description("maestro - LLM multi-agent task orchestrator"),
		kong.UsageOnError(),
	)

	if cli.EnvFile != "" {
		if err := godotenv.Load(cli.EnvFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
			os.Exit(1)
		}
	} else {
		// Best effort: a local .env is optional.
		_ = godotenv.Load()
	}

	logger.Init(logger.ParseLevel(cli.LogLevel), cli.LogFormat, os.Stderr)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
