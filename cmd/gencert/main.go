// SPDX-License-Identifier: MIT

// Command gencert generates self-signed TLS certificates for touchstream.
//
// The daemon can do this on its own via TOUCHSTREAM_TLS_AUTO; gencert exists
// for operators who want the pair in place (or inspected) before first start.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	tstls "github.com/opentouch/touchstream/internal/tls"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gencert", flag.ContinueOnError)
	fs.SetOutput(stderr)
	certPath := fs.String("cert", "certs/server.crt", "certificate output path")
	keyPath := fs.String("key", "certs/server.key", "private key output path")
	ipList := fs.String("ip", "", "extra SAN IPs (comma separated, localhost is always included)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var extra []net.IP
	for _, raw := range strings.Split(*ipList, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			fmt.Fprintf(stderr, "invalid IP %q\n", raw)
			return 2
		}
		extra = append(extra, ip)
	}

	if err := tstls.GenerateSelfSigned(*certPath, *keyPath, extra); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "✓ self-signed TLS pair generated\n")
	fmt.Fprintf(stdout, "  certificate: %s\n", *certPath)
	fmt.Fprintf(stdout, "  private key: %s\n", *keyPath)
	return 0
}
