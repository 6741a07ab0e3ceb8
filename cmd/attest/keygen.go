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
	"errors"

	"github.com/blinklabs-io/attest/internal/config"
	"github.com/blinklabs-io/attest/keystore"
	"github.com/spf13/cobra"
)

type keygenOutput struct {
	Path      string `json:"path"`
	Principal string `json:"principal"`
	Encrypted bool   `json:"encrypted"`
}

func keygenCommand() *cobra.Command {
	var encrypt bool
	cmd := &cobra.Command{
		Use:   "keygen [path]",
		Short: "Generate an operator key file",
		Long: "Generate an operator key file at path, or at the configured keyFile. " +
			"With --encrypt the file is encrypted with SOPS using the KMS keys in " +
			"ATTEST_GCP_KMS_RESOURCE_ID or ATTEST_AWS_KMS_KEY_ARNS.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if cfg := config.FromContext(cmd.Context()); cfg != nil {
				path = cfg.KeyFile
			}
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return errors.New("no key file path given or configured")
			}
			key, err := keystore.GenerateKey()
			if err != nil {
				return err
			}
			if err := keystore.WriteKey(path, key, encrypt); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), keygenOutput{
				Path:      path,
				Principal: key.PublicKey().String(),
				Encrypted: encrypt,
			})
		},
	}
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "encrypt the key file with SOPS")
	return cmd
}
