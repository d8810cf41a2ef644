// Package main is a utility for generating upload tokens and their bcrypt
// hashes. The registry stores only bcrypt hashes of tokens, never the raw
// values, so this tool is used when manually seeding or verifying token
// records in the database without running the full server. With no arguments
// it mints a fresh token; passing an existing raw token re-derives the hash
// and lookup prefix for an INSERT into the tokens table.
package main

import (
	"fmt"
	"os"

	"github.com/pratikychavan/PyPI-clone/internal/auth"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	var token, hash, prefix string

	if len(os.Args) > 1 {
		token = os.Args[1]
		hashBytes, err := bcrypt.GenerateFromPassword([]byte(token), auth.BcryptCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to hash token: %v\n", err)
			os.Exit(1)
		}
		hash = string(hashBytes)
		prefix = auth.LookupPrefix(token)
	} else {
		var err error
		token, hash, prefix, err = auth.GenerateToken("pypi-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("token:        %s\n", token)
	fmt.Printf("token_prefix: %s\n", prefix)
	fmt.Printf("token_hash:   %s\n", hash)
}
