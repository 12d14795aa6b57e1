// issue-operator-token prints a signed operator token for the reconciliation API.
//
// Usage:
//   API_SECRET=... go run ./cmd/issue-operator-token --operator alice --id 7
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/catalog_sync/utils"
)

func main() {
	operator := flag.String("operator", "", "Required: operator name recorded on resolutions")
	id := flag.Int("id", 0, "Required: positive operator id")
	flag.Parse()

	if strings.TrimSpace(*operator) == "" {
		fmt.Fprintln(os.Stderr, "--operator is required")
		os.Exit(1)
	}
	if *id <= 0 {
		fmt.Fprintln(os.Stderr, "--id must be a positive operator id")
		os.Exit(1)
	}

	token, err := utils.JwtGenerate(*id, strings.TrimSpace(*operator))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
