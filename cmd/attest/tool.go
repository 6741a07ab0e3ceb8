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
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/blinklabs-io/attest/internal/config"
	"github.com/blinklabs-io/attest/internal/node"
	"github.com/blinklabs-io/attest/saga"
	"github.com/spf13/cobra"
)

// openNode starts a node without listeners for a one-shot command. The
// caller must Stop it.
func openNode(cmd *cobra.Command) (*node.Node, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return nil, errors.New("no config found in context")
	}
	logger := toolLogger()
	opts, err := node.OptionsFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	// One-shot commands do not need the connectivity monitor
	opts = append(opts, node.WithPingInterval(0))
	n, err := node.New(node.NewConfig(opts...))
	if err != nil {
		return nil, err
	}
	if err := n.Start(cmd.Context()); err != nil {
		return nil, errors.Join(err, n.Stop())
	}
	return n, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type writeFailure struct {
	Error        string `json:"error"`
	Kind         string `json:"kind"`
	Address      string `json:"address,omitempty"`
	Digest       string `json:"digest,omitempty"`
	ContentID    string `json:"cid,omitempty"`
	URI          string `json:"uri,omitempty"`
	RecordExists string `json:"recordExists"`
	Recovery     string `json:"recovery"`
}

// reportWriteError prints the recovery details of a failed write to w and
// returns err
func reportWriteError(w io.Writer, err error) error {
	var sagaErr *saga.Error
	if !errors.As(err, &sagaErr) {
		return err
	}
	failure := writeFailure{
		Error:        sagaErr.Error(),
		Kind:         sagaErr.Kind.String(),
		Address:      sagaErr.Address,
		Digest:       sagaErr.Digest,
		RecordExists: sagaErr.Record.String(),
		Recovery:     string(sagaErr.Recovery()),
	}
	if sagaErr.Object != nil {
		failure.ContentID = sagaErr.Object.ContentID
		failure.URI = sagaErr.Object.URI
	}
	if printErr := printJSON(w, failure); printErr != nil {
		return errors.Join(err, printErr)
	}
	return fmt.Errorf("%s failed", sagaErr.Kind)
}
