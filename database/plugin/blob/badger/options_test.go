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

package badger_test

import (
	"testing"

	"github.com/blinklabs-io/attest/database/plugin/blob/badger"
	"github.com/stretchr/testify/assert"
)

func TestOptions(t *testing.T) {
	b := badger.NewWithOptions(
		badger.WithDataDir("/tmp/test"),
		badger.WithGatewayUrl("https://gw.example"),
		badger.WithBlockCacheSize(123456789),
		badger.WithGc(true),
	)
	assert.Equal(t, "/tmp/test", b.DataDir)
	assert.Equal(t, "https://gw.example", b.GatewayUrl)
	assert.Equal(t, uint64(123456789), b.BlockCacheSize)
	assert.True(t, b.GcEnabled)
}

func TestDefaults(t *testing.T) {
	b := badger.NewWithOptions()
	assert.Equal(t, badger.DefaultGatewayUrl, b.GatewayUrl)
	assert.Equal(t, uint64(badger.DefaultBlockCacheSize), b.BlockCacheSize)
	assert.Empty(t, b.DataDir)
}
