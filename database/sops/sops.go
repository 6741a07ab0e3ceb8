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

// Package sops wraps SOPS encryption of operator key files at rest
package sops

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	sopsapi "github.com/getsops/sops/v3"
	"github.com/getsops/sops/v3/aes"
	scommon "github.com/getsops/sops/v3/cmd/sops/common"
	"github.com/getsops/sops/v3/config"
	"github.com/getsops/sops/v3/decrypt"
	"github.com/getsops/sops/v3/gcpkms"
	skeys "github.com/getsops/sops/v3/keys"
	awskms "github.com/getsops/sops/v3/kms"
	jsonstore "github.com/getsops/sops/v3/stores/json"
	"github.com/getsops/sops/v3/version"
)

const (
	EnvGcpKmsResourceId = "ATTEST_GCP_KMS_RESOURCE_ID"
	EnvAwsKmsKeyArns    = "ATTEST_AWS_KMS_KEY_ARNS"
	EnvAwsKmsProfile    = "ATTEST_AWS_KMS_PROFILE"
)

var (
	ErrAlreadyEncrypted = errors.New("data is already SOPS encrypted")
	ErrNoMasterKeys     = errors.New(
		"SOPS requires at least one master key to encrypt: set " +
			EnvGcpKmsResourceId + " and/or " + EnvAwsKmsKeyArns,
	)
)

// IsEncrypted reports whether data looks like a SOPS binary envelope
func IsEncrypted(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	store := jsonstore.NewBinaryStore(&config.JSONBinaryStoreConfig{})
	_, err := store.LoadEncryptedFile(trimmed)
	return err == nil
}

// Decrypt opens a SOPS binary envelope using the key material referenced in
// its metadata
func Decrypt(data []byte) ([]byte, error) {
	ret, err := decrypt.Data(data, "binary")
	if err != nil {
		return nil, fmt.Errorf("sops decrypt: %w", err)
	}
	return ret, nil
}

// Encrypt wraps data in a SOPS binary envelope using the KMS keys named in
// the environment
func Encrypt(data []byte) ([]byte, error) {
	keyGroups, err := KeyGroupsFromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}
	return EncryptWithKeyGroups(data, keyGroups)
}

func EncryptWithKeyGroups(
	data []byte,
	keyGroups []sopsapi.KeyGroup,
) ([]byte, error) {
	if IsEncrypted(data) {
		return nil, ErrAlreadyEncrypted
	}
	storeConfig := &config.JSONBinaryStoreConfig{}
	store := jsonstore.NewBinaryStore(storeConfig)
	branches, err := store.LoadPlainFile(data)
	if err != nil {
		return nil, fmt.Errorf("load plaintext: %w", err)
	}
	tree := sopsapi.Tree{
		Branches: branches,
		Metadata: sopsapi.Metadata{
			KeyGroups: keyGroups,
			Version:   version.Version,
		},
	}
	dataKey, errs := tree.GenerateDataKey()
	if len(errs) > 0 {
		return nil, fmt.Errorf("generate data key: %w", errors.Join(errs...))
	}
	if err := scommon.EncryptTree(scommon.EncryptTreeOpts{
		DataKey: dataKey,
		Tree:    &tree,
		Cipher:  aes.NewCipher(),
	}); err != nil {
		return nil, fmt.Errorf("encrypt tree: %w", err)
	}
	encrypted, err := store.EmitEncryptedFile(tree)
	if err != nil {
		return nil, fmt.Errorf("emit encrypted file: %w", err)
	}
	return encrypted, nil
}

// KeyGroupsFromEnv builds one key group per configured KMS provider
func KeyGroupsFromEnv(getenv func(string) string) ([]sopsapi.KeyGroup, error) {
	var keyGroups []sopsapi.KeyGroup
	if rid := getenv(EnvGcpKmsResourceId); rid != "" {
		var group sopsapi.KeyGroup
		for _, k := range gcpkms.MasterKeysFromResourceIDString(rid) {
			group = append(group, skeys.MasterKey(k))
		}
		if len(group) > 0 {
			keyGroups = append(keyGroups, group)
		}
	}
	if arns := getenv(EnvAwsKmsKeyArns); arns != "" {
		var group sopsapi.KeyGroup
		profile := getenv(EnvAwsKmsProfile)
		for _, k := range awskms.MasterKeysFromArnString(arns, nil, profile) {
			group = append(group, skeys.MasterKey(k))
		}
		if len(group) > 0 {
			keyGroups = append(keyGroups, group)
		}
	}
	if len(keyGroups) == 0 {
		return nil, ErrNoMasterKeys
	}
	return keyGroups, nil
}
