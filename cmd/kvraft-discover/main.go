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
kvraft-discover finds kvraft nodes on the local network segment via
mDNS (Bonjour/Avahi). Useful for assembling a --peers list without
typing out addresses by hand.

Usage:

	kvraft-discover                  # discover nodes (5 second timeout)
	kvraft-discover --timeout 10     # custom timeout in seconds
	kvraft-discover --json           # output as JSON
	kvraft-discover --quiet          # only output addresses (for scripting)
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"kvraft/internal/discovery"
	"kvraft/pkg/cli"
)

func main() {
	timeout := flag.Int("timeout", 5, "discovery timeout in seconds")
	jsonOutput := flag.Bool("json", false, "output as JSON")
	quiet := flag.Bool("quiet", false, "only output node addresses (for scripting)")
	flag.Parse()

	// the mdns library logs IPv6 errors on its own that are not critical
	log.SetOutput(io.Discard)

	if !*quiet && !*jsonOutput {
		fmt.Printf("%s scanning for kvraft nodes (timeout: %ds)...\n\n", cli.InfoIcon(), *timeout)
	}

	nodes, err := discovery.DiscoverNodes(time.Duration(*timeout) * time.Second)
	if err != nil {
		if !*quiet {
			cli.PrintError("discovery failed: %v", err)
		}
		os.Exit(1)
	}

	if len(nodes) == 0 {
		if !*quiet && !*jsonOutput {
			cli.PrintWarning("no kvraft nodes found on the network")
			fmt.Println("  Try: kvraft-discover --timeout 10")
		}
		os.Exit(0)
	}

	switch {
	case *jsonOutput:
		outputJSON(nodes)
	case *quiet:
		outputQuiet(nodes)
	default:
		outputHuman(nodes)
	}
}

func outputJSON(nodes []*discovery.DiscoveredNode) {
	data, _ := json.MarshalIndent(nodes, "", "  ")
	fmt.Println(string(data))
}

func outputQuiet(nodes []*discovery.DiscoveredNode) {
	addrs := make([]string, len(nodes))
	for i, n := range nodes {
		addrs[i] = n.Addr
	}
	fmt.Println(strings.Join(addrs, ","))
}

func outputHuman(nodes []*discovery.DiscoveredNode) {
	cli.PrintSuccess("found %d kvraft node(s)", len(nodes))
	fmt.Println()
	for i, n := range nodes {
		fmt.Printf("  [%d] %s\n", i+1, cli.Highlight(n.NodeID))
		cli.KeyValue("addr", n.Addr, 6)
	}
	fmt.Println()
}
