// Copyright 2021-2022
// SPDX-License-Identifier: Apache-2.0
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

package batch

// OutcomeKind is the three-way result of one unit of phase work
type OutcomeKind string

const (
	OutcomeOK      OutcomeKind = "ok"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome distinguishes "nothing to do" from "broke". Skipped carries a
// reason; Failed carries the error and whether retrying could help.
type Outcome struct {
	Kind      OutcomeKind
	Reason    string
	Err       error
	Retryable bool
}

func Ok() Outcome {
	return Outcome{Kind: OutcomeOK}
}

func Skipped(reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason}
}

func Failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err, Retryable: isTransient(err)}
}
