// Command grant-admin sets or revokes the admin custom claim that guards the
// moderation endpoints.
//
//	grant-admin -uid <firebase uid> [-revoke]
package main

import (
	"context"
	"flag"
	"log"

	fbapp "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"marketchat/internal/infrastructure/firebase"
	"marketchat/pkg/config"
)

func main() {
	uid := flag.String("uid", "", "Firebase user ID")
	revoke := flag.Bool("revoke", false, "remove the admin claim instead of granting it")
	flag.Parse()

	if *uid == "" {
		log.Fatal("-uid is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var opts []option.ClientOption
	switch {
	case cfg.ServiceAccountJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	case cfg.ServiceAccountPath != "":
		opts = append(opts, option.WithCredentialsFile(cfg.ServiceAccountPath))
	}

	ctx := context.Background()
	app, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opts...)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase: %v", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase Auth: %v", err)
	}

	if err := firebase.NewFirebaseAuthClient(authClient).SetAdmin(ctx, *uid, !*revoke); err != nil {
		log.Fatalf("Failed to update claims for %s: %v", *uid, err)
	}

	if *revoke {
		log.Printf("Admin claim revoked for %s", *uid)
		return
	}
	log.Printf("Admin claim granted to %s; it applies from the user's next token refresh", *uid)
}
