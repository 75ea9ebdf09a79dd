// Command neosignd serves the NeoSign step-up and compliance engine over
// HTTP and bundles operator tooling around it.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
