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

package pinata

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type BlobStorePinataOptionFunc func(*BlobStorePinata)

func WithLogger(logger *slog.Logger) BlobStorePinataOptionFunc {
	return func(b *BlobStorePinata) {
		b.logger = logger
	}
}

func WithPromRegistry(
	registry prometheus.Registerer,
) BlobStorePinataOptionFunc {
	return func(b *BlobStorePinata) {
		b.promRegistry = registry
	}
}

func WithJwt(jwt string) BlobStorePinataOptionFunc {
	return func(b *BlobStorePinata) {
		b.jwt = jwt
	}
}

func WithApiUrl(apiUrl string) BlobStorePinataOptionFunc {
	return func(b *BlobStorePinata) {
		b.apiUrl = apiUrl
	}
}

func WithGatewayUrl(gatewayUrl string) BlobStorePinataOptionFunc {
	return func(b *BlobStorePinata) {
		b.gatewayUrl = gatewayUrl
	}
}

func WithHttpClient(client *http.Client) BlobStorePinataOptionFunc {
	return func(b *BlobStorePinata) {
		b.httpClient = client
	}
}

func WithTimeout(timeout time.Duration) BlobStorePinataOptionFunc {
	return func(b *BlobStorePinata) {
		b.timeout = timeout
	}
}
