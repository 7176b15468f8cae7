/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package errkind gives every failure mode of the cluster a stable,
// inspectable Kind instead of bare fmt.Errorf strings, so callers can
// branch on "was this transient" without string matching.
package errkind

import "fmt"

// Kind categorizes a RaftError per the five error kinds of the error
// handling design: transport transients, malformed protocol, quorum
// timeouts, unknown leader, and backend failures.
type Kind int

const (
	KindTransportTransient Kind = iota + 1
	KindProtocolMalformed
	KindQuorumTimeout
	KindLeaderUnknown
	KindBackend
)

func (k Kind) String() string {
	switch k {
	case KindTransportTransient:
		return "TRANSPORT_TRANSIENT"
	case KindProtocolMalformed:
		return "PROTOCOL_MALFORMED"
	case KindQuorumTimeout:
		return "QUORUM_TIMEOUT"
	case KindLeaderUnknown:
		return "LEADER_UNKNOWN"
	case KindBackend:
		return "BACKEND"
	default:
		return "UNKNOWN"
	}
}

// RaftError is a structured error carrying a Kind and an optional cause.
type RaftError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *RaftError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RaftError) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *RaftError {
	return &RaftError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *RaftError {
	return &RaftError{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a RaftError of the given Kind, unwrapping as
// needed.
func Is(err error, kind Kind) bool {
	for err != nil {
		if re, ok := err.(*RaftError); ok {
			if re.Kind == kind {
				return true
			}
			err = re.Cause
			continue
		}
		break
	}
	return false
}

func TransportTransient(message string, cause error) *RaftError {
	return Wrap(KindTransportTransient, message, cause)
}

func ProtocolMalformed(message string, cause error) *RaftError {
	return Wrap(KindProtocolMalformed, message, cause)
}

func QuorumTimeout(message string) *RaftError {
	return New(KindQuorumTimeout, message)
}

func LeaderUnknown(message string) *RaftError {
	return New(KindLeaderUnknown, message)
}

func Backend(message string, cause error) *RaftError {
	return Wrap(KindBackend, message, cause)
}
