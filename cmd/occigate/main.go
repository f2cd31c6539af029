// Package main is the entry point for occigate, an OCCI 1.1 server.
package main

import "github.com/artpar/occigate/bootstrap"

func main() {
	bootstrap.Version = version
	Execute()
}
