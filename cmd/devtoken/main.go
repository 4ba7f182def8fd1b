// Command devtoken mints a JWT the API accepts, for local testing against a
// running server.  Identity is otherwise issued by an external provider.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/dominusnolan/court-booking/internal/utils"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warn: .env not loaded: %v", err)
	}
	sub := flag.String("sub", "", "subject (customer or admin id)")
	role := flag.String("role", "CUSTOMER", "CUSTOMER or ADMIN")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	tok, err := utils.NewAccessToken(os.Getenv("JWT_SECRET"), *sub, *role, *ttl)
	if err != nil {
		log.Fatalf("devtoken: %v", err)
	}
	fmt.Println(tok.Token)
}
