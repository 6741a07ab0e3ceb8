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

package node

import (
	"log/slog"

	"github.com/blinklabs-io/attest/event"
)

// subscribeAudit writes saga outcomes and authorization changes to the log
func subscribeAudit(bus *event.EventBus, logger *slog.Logger) {
	logger = logger.With("component", "audit")
	bus.SubscribeFunc(event.SagaTerminalEventType, func(evt event.Event) {
		data, ok := evt.Data.(event.SagaTerminalEvent)
		if !ok {
			return
		}
		attrs := []any{
			"run_id", data.RunID,
			"operation", data.Operation,
			"address", data.Address,
			"operator", data.Operator,
			"outcome", data.Outcome,
			"duration", data.Duration,
		}
		if data.ContentID != "" {
			attrs = append(attrs, "cid", data.ContentID)
		}
		if data.ErrorKind == "" {
			logger.Info("write completed", attrs...)
			return
		}
		attrs = append(
			attrs,
			"error_kind", data.ErrorKind,
			"record_exists", data.RecordExists,
			"recovery", data.Recovery,
		)
		logger.Warn("write failed", attrs...)
	})
	bus.SubscribeFunc(event.AuthzVerdictEventType, func(evt event.Event) {
		data, ok := evt.Data.(event.AuthzVerdictEvent)
		if !ok {
			return
		}
		logger.Info(
			"authorization changed",
			"principal", data.Principal,
			"status", data.Status,
			"previous", data.Previous,
			"phase", data.Phase,
			"sticky", data.Sticky,
			"registry", data.Registry,
			"endpoint", data.Endpoint,
		)
	})
}
