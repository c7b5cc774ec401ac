// Command token mints a chat token signed with the configured auth secret,
// for local clients and smoke tests.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Relay/internal/adapters/identity"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/domain"
)

func main() {
	user := flag.String("user", "", "user id (token subject)")
	name := flag.String("name", "", "display name, defaults to the user id")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if *user == "" {
		flag.Usage()
		os.Exit(2)
	}
	if _, err := domain.NewUser(domain.UserID(*user), *name); err != nil {
		log.Fatal().Err(err).Msg("invalid user")
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	v, err := identity.NewJWTValidator(cfg.Auth.Secret, cfg.Auth.Issuer, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("validator")
	}
	token, err := v.Issue(domain.UserID(*user), *name, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("sign token")
	}
	fmt.Println(token)
}
