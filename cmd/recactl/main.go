// Command recactl is the operator CLI for the climate risk API. It normalizes
// and hashes widget requests, converts quantities, seeds the database and
// lists the job log.
package main

import (
	"os"

	"github.com/couchcryptid/climate-risk-api/cmd/recactl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
