// Command chatctl is a CLI client for the chat server. Messages are sealed,
// signed, opened and verified locally; private keys stay in a sealed vault.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `chatctl CLI
Usage:
  chatctl [-addr URL] <cmd> [args]

Commands:
  version
  register      -u <username> -p <password>     (seals the issued keys in the local vault)
  login         -u <username> -p <password>     (saves token)
  contacts
  send          -to <user> -m <text> [-p <password>]
  inbox         [-with <user>] [-p <password>]
  group-create  -name <name>
  group-join    -id <group id>
  group-send    -g <group> -m <text> [-p <password>]
  groups
  ledger                                        (downloads and re-validates the chain)

-p defaults to $CHATCTL_PASSWORD.
`)
	os.Exit(2)
}

// main dispatches subcommands against the REST API.
func main() {
	// global flags
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	if cmd == "version" {
		fmt.Printf("chatctl %s (%s)\n", version, buildDate)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a := &app{api: newClient(*addr, &http.Client{}), out: os.Stdout}
	if err := a.run(ctx, cmd, flag.Args()[1:]); err != nil {
		fail(err)
	}
}

func fail(err error) {
	var ae *apiError
	if errors.As(err, &ae) && ae.Status == http.StatusUnauthorized {
		fmt.Fprintln(os.Stderr, "unauthorized (login again)")
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
