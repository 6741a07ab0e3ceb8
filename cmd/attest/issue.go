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
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/blinklabs-io/attest/database/plugin/blob"
	"github.com/blinklabs-io/attest/saga"
	"github.com/spf13/cobra"
)

type writeOutput struct {
	Object          *blob.Object `json:"object,omitempty"`
	MetadataError   string       `json:"metadataError,omitempty"`
	RunID           string       `json:"runId"`
	Address         string       `json:"address"`
	Digest          string       `json:"digest,omitempty"`
	CreateSignature string       `json:"createSignature,omitempty"`
	LinkSignature   string       `json:"linkSignature,omitempty"`
	Linked          bool         `json:"linked"`
}

func newWriteOutput(res *saga.Result) writeOutput {
	ret := writeOutput{
		Object:          res.Object,
		RunID:           res.RunID,
		Address:         res.Address,
		Digest:          res.Digest,
		CreateSignature: res.CreateSignature,
		LinkSignature:   res.LinkSignature,
		Linked:          res.Linked,
	}
	if res.MetadataErr != nil {
		ret.MetadataError = res.MetadataErr.Error()
	}
	return ret
}

// readAttachment reads at most limit+1 bytes so oversized files are
// rejected by the policy check
func readAttachment(path string, limit int64) (*saga.Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return &saga.Attachment{
		Filename:    filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}

func issueCommand() *cobra.Command {
	var subject saga.Subject
	var file, note string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a certificate, optionally with an attachment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Stop()
			s, err := n.Saga()
			if err != nil {
				return err
			}
			req := saga.IssueRequest{Subject: subject, Note: note}
			if file != "" {
				att, err := readAttachment(file, s.Policy().MaxBytes)
				if err != nil {
					return err
				}
				req.Attachment = att
			}
			res, err := s.Issue(cmd.Context(), req)
			if err != nil {
				return reportWriteError(cmd.ErrOrStderr(), err)
			}
			return printJSON(cmd.OutOrStdout(), newWriteOutput(res))
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&subject.Name, "name", "", "certificate holder name")
	flags.StringVar(&subject.StudentID, "student-id", "", "student identifier")
	flags.StringVar(&subject.Program, "program", "", "study program")
	flags.StringVar(&subject.Institution, "institution", "", "issuing institution")
	flags.StringVar(&subject.BatchCode, "batch-code", "", "graduation batch code")
	flags.StringVar(&subject.Number, "number", "", "certificate number")
	flags.StringVar(&subject.OperatorName, "operator-name", "", "name of the issuing operator")
	flags.StringVar(&file, "file", "", "attachment to upload and link")
	flags.StringVar(&note, "note", "", "note stored in the metadata document")
	return cmd
}

func attachCommand() *cobra.Command {
	var file, note string
	cmd := &cobra.Command{
		Use:   "attach <address>",
		Short: "Attach or replace the document of an existing certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			n, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Stop()
			s, err := n.Saga()
			if err != nil {
				return err
			}
			att, err := readAttachment(file, s.Policy().MaxBytes)
			if err != nil {
				return err
			}
			res, err := s.Attach(cmd.Context(), saga.AttachRequest{
				Address:    args[0],
				Note:       note,
				Attachment: *att,
			})
			if err != nil {
				return reportWriteError(cmd.ErrOrStderr(), err)
			}
			return printJSON(cmd.OutOrStdout(), newWriteOutput(res))
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "attachment to upload and link")
	cmd.Flags().StringVar(&note, "note", "", "note stored in the metadata document")
	return cmd
}

func linkCommand() *cobra.Command {
	var req saga.LinkRequest
	cmd := &cobra.Command{
		Use:   "link <address>",
		Short: "Link an already uploaded object to a certificate",
		Long: "Link an already uploaded object to a certificate. This retries the " +
			"link step of a write whose upload succeeded, using the cid, uri and " +
			"digest it reported.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Stop()
			s, err := n.Saga()
			if err != nil {
				return err
			}
			req.Address = args[0]
			res, err := s.RetryLink(cmd.Context(), req)
			if err != nil {
				return reportWriteError(cmd.ErrOrStderr(), err)
			}
			return printJSON(cmd.OutOrStdout(), newWriteOutput(res))
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.Object.ContentID, "cid", "", "content identifier of the uploaded object")
	flags.StringVar(&req.Object.URI, "uri", "", "storage URI of the uploaded object")
	flags.StringVar(&req.Digest, "digest", "", "hex SHA-256 digest of the object")
	flags.StringVar(&req.Filename, "filename", "", "original file name")
	flags.StringVar(&req.Note, "note", "", "note stored in the metadata document")
	return cmd
}
