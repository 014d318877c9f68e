package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sawdustandcoffee/checkoutapi/internal/api/middleware"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/hash-operator-key/main.go <api-key>")
		fmt.Println("Set the printed hash as OPERATOR_API_KEY_HASH.")
		os.Exit(1)
	}

	// Trim so the stored hash matches what the server receives (the auth middleware trims the Bearer token)
	apiKey := strings.TrimSpace(os.Args[1])
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key cannot be empty after trimming.")
		os.Exit(1)
	}

	hash, err := middleware.HashAPIKey(apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash API key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
