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

package transport

import (
	"fmt"
	"net"

	"kvraft/internal/envelope"
)

// readEnvelope reads a single datagram-style message off conn: one
// Read call into a bound-size buffer, matching the reference's
// recv(1024) semantics (spec §6: "no length prefix; the transport
// relies on one-message-per-connection framing").
func readEnvelope(conn net.Conn) (*envelope.Envelope, error) {
	buf := make([]byte, envelope.MaxFrameBytes)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("transport: read: %w", err)
	}
	return envelope.Decode(buf[:n])
}

func writeEnvelope(conn net.Conn, env *envelope.Envelope) error {
	b, err := envelope.Encode(env)
	if err != nil {
		return fmt.Errorf("transport: encode reply: %w", err)
	}
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}
