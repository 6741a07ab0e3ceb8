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

package event

import "time"

const (
	// SagaTerminalEventType is published once per write operation when it
	// reaches a terminal state
	SagaTerminalEventType EventType = "saga.terminal"
	// AuthzVerdictEventType is published when a principal's authorization
	// verdict or phase changes
	AuthzVerdictEventType EventType = "authz.verdict"
)

type SagaTerminalEvent struct {
	RunID        string
	Operation    string
	Address      string
	Operator     string
	Outcome      string
	ErrorKind    string
	RecordExists string
	Recovery     string
	ContentID    string
	Duration     time.Duration
}

type AuthzVerdictEvent struct {
	Endpoint  string
	Registry  string
	Principal string
	Status    string
	Phase     string
	Sticky    bool
	Previous  string
}
