// Copyright 2026 Blink Labs Software
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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func verifyCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "verify <address>",
		Short: "Show the ledger record of a certificate, or check a file against it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Stop()
			if file == "" {
				v, err := n.Verifier().Verify(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), v)
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			check, err := n.Verifier().VerifyAttachment(cmd.Context(), args[0], data)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), check); err != nil {
				return err
			}
			if !check.Match {
				return fmt.Errorf("%s does not match the certificate attachment", file)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file to compare with the recorded attachment digest")
	return cmd
}
