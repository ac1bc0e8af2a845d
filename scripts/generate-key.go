//go:build ignore

// generate-key prints a development API key, its bcrypt hash and lookup
// prefix, plus an INSERT statement for seeding a local database. Keys made
// here carry no expiry.
//
//	go run scripts/generate-key.go <organization-id> [role]
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/riskmate/riskmate/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <organization-id> [role]", os.Args[0])
	}
	orgID := os.Args[1]
	role := auth.RoleMember
	if len(os.Args) > 2 {
		r, err := auth.ParseRoleStrict(os.Args[2])
		if err != nil {
			log.Fatal(err)
		}
		role = r
	}

	key, hash, prefix, err := auth.GenerateAPIKey("rm")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("API Key Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nFull Key: %s\n", key)
	fmt.Printf("\nHash: %s\n", hash)
	fmt.Printf("\nLookup Prefix: %s\n", prefix)
	fmt.Printf("\nRole: %s\n", role)
	fmt.Println("\n==========================================================")
	fmt.Println("SQL Insert:")
	fmt.Println("==========================================================")
	fmt.Printf(`
INSERT INTO api_keys (organization_id, name, key_hash, key_prefix, role)
VALUES ('%s', 'dev key', '%s', '%s', '%s');
`, orgID, hash, prefix, role)
}
