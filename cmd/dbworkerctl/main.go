// Command dbworkerctl is both the worker entry point (`serve`) and the
// operator CLI for inspecting and stopping workers, invoked as
// "(db_path, socket_path, log_path?)" for the worker role.
package main

import "os"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
