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
	"github.com/spf13/cobra"
)

func certsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Browse issued certificates",
	}
	cmd.AddCommand(certsListCommand())
	return cmd
}

func certsListCommand() *cobra.Command {
	var (
		operator string
		mine     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List certificates on the ledger, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Stop()
			if mine {
				signer, err := n.Signer()
				if err != nil {
					return err
				}
				operator = signer.PublicKey().String()
			}
			ret, err := n.Verifier().List(cmd.Context(), operator)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ret)
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "only list certificates issued by this principal")
	cmd.Flags().BoolVar(&mine, "mine", false, "only list certificates issued with the operator key")
	cmd.MarkFlagsMutuallyExclusive("operator", "mine")
	return cmd
}
