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

/*
kvraft-cli is an interactive client for a kvraft cluster. It speaks the
one-shot TCP/JSON envelope protocol directly (spec §6): dial, send one
envelope, read one reply, close.

Usage:

	kvraft-cli --node 127.0.0.1:5000

Commands (each opens its own connection):

	put <key> <value> [namespace]
	get <key> [namespace]
	delete <key> [namespace]
	peers
	\h, \help     show this help
	\q, \quit     exit
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"kvraft/internal/envelope"
	"kvraft/pkg/cli"
)

const dialTimeout = 2 * time.Second
const ioTimeout = 2 * time.Second

func main() {
	node := flag.String("node", "127.0.0.1:5000", "cluster node to connect to, host:port")
	flag.Parse()

	cli.PrintInfo("connecting to %s", *node)

	rl, err := readline.New(promptFor(*node))
	if err != nil {
		cli.PrintError("failed to start line editor: %v", err)
		os.Exit(1)
	}
	defer rl.Close()

	repl(rl, *node)
}

func promptFor(node string) string {
	return cli.Highlight("kvraft") + "(" + node + ")> "
}

func newHelp() *cli.HelpFormatter {
	h := cli.NewHelpFormatter("kvraft-cli", "1.0.0")
	h.AddCommand(cli.Command{Name: "put", Usage: "put <key> <value> [namespace]", Description: "stage and replicate a key/value write"})
	h.AddCommand(cli.Command{Name: "get", Usage: "get <key> [namespace]", Description: "read a key's current value from the leader"})
	h.AddCommand(cli.Command{Name: "delete", Usage: "delete <key> [namespace]", Description: "stage and replicate a key deletion"})
	h.AddCommand(cli.Command{Name: "peers", Description: "list the cluster's known peer addresses"})
	h.AddCommand(cli.Command{Name: "\\h, \\help", Description: "show this help"})
	h.AddCommand(cli.Command{Name: "\\q, \\quit, exit", Description: "exit the REPL"})
	return h
}

func repl(rl *readline.Instance, node string) {
	help := newHelp()
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			cli.PrintError("%v", err)
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch line {
		case "\\q", "\\quit", "exit":
			return
		case "\\h", "\\help":
			help.PrintUsage()
			continue
		}

		req, perr := parseCommand(line)
		if perr != nil {
			cli.PrintError("%v", perr)
			continue
		}

		reply, err := roundTrip(node, req)
		if err != nil {
			cli.NewCLIError(fmt.Sprintf("request failed: %v", err)).
				WithSuggestion("Check that the node is running and reachable").Print()
			continue
		}
		printReply(*reply)
	}
}

// parseCommand turns one line of input into a client envelope. Values
// are parsed as JSON when possible (so `put age 30` stores a number),
// falling back to the raw string otherwise.
func parseCommand(line string) (envelope.Envelope, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return envelope.Envelope{}, fmt.Errorf("empty command")
	}

	switch strings.ToLower(fields[0]) {
	case "put":
		if len(fields) < 3 {
			return envelope.Envelope{}, cli.ErrMissingArgument("value", "put <key> <value> [namespace]")
		}
		env := envelope.Envelope{Type: envelope.TypePut, Key: fields[1], Value: parseValue(fields[2])}
		if len(fields) > 3 {
			env.Namespace = fields[3]
		}
		return env, nil
	case "get":
		if len(fields) < 2 {
			return envelope.Envelope{}, cli.ErrMissingArgument("key", "get <key> [namespace]")
		}
		env := envelope.Envelope{Type: envelope.TypeGet, Key: fields[1]}
		if len(fields) > 2 {
			env.Namespace = fields[2]
		}
		return env, nil
	case "delete":
		if len(fields) < 2 {
			return envelope.Envelope{}, cli.ErrMissingArgument("key", "delete <key> [namespace]")
		}
		env := envelope.Envelope{Type: envelope.TypeDelete, Key: fields[1]}
		if len(fields) > 2 {
			env.Namespace = fields[2]
		}
		return env, nil
	case "peers":
		return envelope.Envelope{Type: envelope.TypePeers}, nil
	default:
		return envelope.Envelope{}, cli.ErrInvalidCommand(fields[0])
	}
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func printReply(env envelope.Envelope) {
	if env.Data != nil {
		data, _ := json.Marshal(env.Data)
		cli.PrintSuccess("%s", string(data))
		return
	}
	if env.Peers != nil {
		cli.KeyValue("peers", strings.Join(env.Peers, ", "), 8)
		return
	}
	cli.PrintWarning("no data in reply")
}

// roundTrip performs the one request/one reply exchange spec §6
// describes: a single connection carrying exactly one envelope each way.
func roundTrip(addr string, req envelope.Envelope) (*envelope.Envelope, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, cli.ErrConnectionFailed(addr, "", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ioTimeout))

	b, err := envelope.Encode(&req)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(b); err != nil {
		return nil, err
	}
	buf := make([]byte, envelope.MaxFrameBytes)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	reply, err := envelope.Decode(buf[:n])
	if err != nil {
		return nil, err
	}
	return reply, nil
}
