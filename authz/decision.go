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

package authz

import (
	"slices"
	"time"
)

type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseProvisional
	PhaseConfirmed
)

func (p Phase) String() string {
	switch p {
	case PhaseProvisional:
		return "provisional"
	case PhaseConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

type Status int

const (
	StatusUnknown Status = iota
	StatusAuthorized
	StatusUnauthorized
)

func (s Status) String() string {
	switch s {
	case StatusAuthorized:
		return "authorized"
	case StatusUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Initialized reports whether the registry account exists
type Initialized int

const (
	InitializedUnknown Initialized = iota
	InitializedYes
	InitializedNo
)

func (i Initialized) String() string {
	switch i {
	case InitializedYes:
		return "yes"
	case InitializedNo:
		return "no"
	default:
		return "unknown"
	}
}

func (i Initialized) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// Decision is the answer for one principal. Stale is set until a network
// read has confirmed the verdict, and after a failed revalidation.
type Decision struct {
	CheckedAt   time.Time   `json:"checkedAt"`
	Err         error       `json:"-"`
	Principal   string      `json:"principal"`
	Status      Status      `json:"status"`
	Phase       Phase       `json:"phase"`
	Initialized Initialized `json:"initialized"`
	Stale       bool        `json:"stale"`
	Sticky      bool        `json:"sticky"`
}

// Confirmed reports a confirmed positive verdict, the only decision that
// admits a privileged write
func (d Decision) Confirmed() bool {
	return d.Phase == PhaseConfirmed && d.Status == StatusAuthorized
}

// Registry is a snapshot of the admin registry as seen by a Cache
type Registry struct {
	UpdatedAt   time.Time   `json:"updatedAt"`
	Endpoint    string      `json:"endpoint"`
	Address     string      `json:"address"`
	SuperAdmin  string      `json:"superAdmin,omitempty"`
	Admins      []string    `json:"admins"`
	Initialized Initialized `json:"initialized"`
	// Confirmed is set once a network read succeeded in this session
	Confirmed bool `json:"confirmed"`
}

func (r Registry) clone() Registry {
	r.Admins = slices.Clone(r.Admins)
	return r
}
