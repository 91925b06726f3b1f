// Command gridfs-token issues bearer tokens for the GridFS Store API.
//
//	gridfs-token -user alice -buckets photos,docs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"gridfs-store/internal/di"
	"gridfs-store/internal/gridfs/config"
	"gridfs-store/internal/gridfs/domain/repository"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

func main() {
	user := flag.String("user", "", "subject of the token")
	buckets := flag.String("buckets", "", "comma separated buckets the token may modify, empty for all")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env file: %v\n", err)
	}
	if *user == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		flag.Usage()
		os.Exit(2)
	}

	authCfg := config.AuthConfig{}
	if err := env.Parse(&authCfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load auth configuration: %v\n", err)
		os.Exit(1)
	}
	container := di.NewContainer(&config.Config{Auth: authCfg}, nil)
	tokens, err := di.GetService[repository.TokenService](container)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create token service: %v\n", err)
		os.Exit(1)
	}

	var scope []string
	for _, b := range strings.Split(*buckets, ",") {
		if b = strings.TrimSpace(b); b != "" {
			scope = append(scope, b)
		}
	}

	token, err := tokens.GenerateToken(context.Background(), *user, scope)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
