// billingctl runs billing maintenance jobs outside the API process: schema migration,
// a single recurring tick, draining the notification outbox, and a few ops helpers.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/billingctl migrate
//	go run ./cmd/billingctl recurring-tick --dry-run
//	go run ./cmd/billingctl spayd --iban CZ6508000000192000145399 --amount 1210 --currency CZK
package main

import (
	"fmt"
	"os"

	"github.com/mmdatafocus/billing_backend/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		config.GetLogger().WithField("field", "billingctl").Error(err.Error())
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}
