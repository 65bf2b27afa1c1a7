// Command rpcxbench compares echo round-trip latency over unix sockets and TCP.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
