// Copyright 2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/registry"
	"github.com/spf13/cobra"
)

// providersCmd represents the providers command
var providersCmd = &cobra.Command{
	Use:   "providers [data-type]",
	Short: "List providers, or the order providers are tried for a data type",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		myApp := mustApp(context.Background())
		defer myApp.close()

		builder := strings.Builder{}

		if len(args) > 0 {
			dt := mustDataType(args[0])
			cfg := myApp.config.Current()

			fmt.Fprintf(&builder, "# %s providers\n\n", dt)
			fmt.Fprintf(&builder, "Configured priority: %s\n\n", strings.Join(cfg.ProviderOrder(dt), ", "))

			ordered := myApp.orch.Providers(dt)
			if len(ordered) == 0 {
				builder.WriteString("No providers are currently available for this data type.\n")
			}

			for idx, p := range ordered {
				fmt.Fprintf(&builder, "%d. **%s** (%s)\n", idx+1, p.Label(), p.Name())
			}
		} else {
			builder.WriteString(providerTable(myApp.orch.Describe()))
		}

		renderMarkdown(builder.String())
	},
}

func yesNo(flag bool) string {
	if flag {
		return "yes"
	}
	return "no"
}

func providerTable(rows []registry.Row) string {
	builder := strings.Builder{}
	builder.WriteString("# Providers\n\n")
	builder.WriteString("| Name | Label | Data Types | Available | Enabled | Realtime | Batch | Authoritative |\n")
	builder.WriteString("|---|---|---|---|---|---|---|---|\n")

	for _, row := range rows {
		types := make([]string, len(row.DataTypes))
		for idx, dt := range row.DataTypes {
			types[idx] = string(dt)
		}

		fmt.Fprintf(&builder, "| %s | %s | %s | %s | %s | %s | %s | %s |\n",
			row.Name, row.Label, strings.Join(types, ", "),
			yesNo(row.Available), yesNo(!row.Disabled), yesNo(row.Realtime),
			yesNo(row.Batch), yesNo(row.Authoritative))
	}

	builder.WriteString("\nData types: ")
	names := make([]string, len(data.AllDataTypes))
	for idx, dt := range data.AllDataTypes {
		names[idx] = string(dt)
	}
	builder.WriteString(strings.Join(names, ", "))
	builder.WriteString("\n")

	return builder.String()
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
