// Command identity-token mints a short-lived bearer token for the identity
// endpoints, signed with EVENTS_API_KEY.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/auth"
)

func main() {
	_ = godotenv.Load()

	subject := flag.String("sub", "ops", "token subject")
	ttl := flag.Duration("ttl", 15*time.Minute, "token lifetime")
	flag.Parse()

	tok, err := auth.IssueToken(auth.ConfigFromEnv().Key, *subject, *ttl, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
