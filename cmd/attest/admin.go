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
	"github.com/blinklabs-io/attest/internal/node"
	"github.com/blinklabs-io/attest/ledger"
	"github.com/spf13/cobra"
)

type registryOutput struct {
	Address    string   `json:"address"`
	SuperAdmin string   `json:"superAdmin"`
	Admins     []string `json:"admins"`
}

type submitOutput struct {
	Signature string `json:"signature"`
	Signer    string `json:"signer"`
}

func adminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage the admin registry",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Create the admin registry with the operator key as super admin",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return submitAdmin(cmd, func(signer ledger.Signer) ledger.Instruction {
					return ledger.InitRegistry{SuperAdmin: signer.PublicKey()}
				})
			},
		},
		&cobra.Command{
			Use:   "add <principal>",
			Short: "Allow a principal to issue certificates",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				admin, err := ledger.ParsePrincipal(args[0])
				if err != nil {
					return err
				}
				return submitAdmin(cmd, func(ledger.Signer) ledger.Instruction {
					return ledger.AddAdmin{Admin: admin}
				})
			},
		},
		&cobra.Command{
			Use:   "remove <principal>",
			Short: "Revoke a principal's permission to issue certificates",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				admin, err := ledger.ParsePrincipal(args[0])
				if err != nil {
					return err
				}
				return submitAdmin(cmd, func(ledger.Signer) ledger.Instruction {
					return ledger.RemoveAdmin{Admin: admin}
				})
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the admin registry",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := openNode(cmd)
				if err != nil {
					return err
				}
				defer n.Stop()
				return showRegistry(cmd, n)
			},
		},
	)
	return cmd
}

func submitAdmin(
	cmd *cobra.Command,
	build func(ledger.Signer) ledger.Instruction,
) error {
	n, err := openNode(cmd)
	if err != nil {
		return err
	}
	defer n.Stop()
	signer, err := n.Signer()
	if err != nil {
		return err
	}
	sig, err := n.Ledger().Submit(cmd.Context(), build(signer), signer)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), submitOutput{
		Signature: sig.String(),
		Signer:    signer.PublicKey().String(),
	})
}

func showRegistry(cmd *cobra.Command, n *node.Node) error {
	addr, err := ledger.RegistryAddress(n.ProgramID())
	if err != nil {
		return err
	}
	reg, err := ledger.FetchRegistry(cmd.Context(), n.Ledger(), n.ProgramID())
	if err != nil {
		return err
	}
	out := registryOutput{
		Address:    addr.String(),
		SuperAdmin: reg.SuperAdmin.String(),
		Admins:     make([]string, 0, len(reg.Admins)),
	}
	for _, admin := range reg.Admins {
		out.Admins = append(out.Admins, admin.String())
	}
	return printJSON(cmd.OutOrStdout(), out)
}
