package firebase

import (
	"context"

	"firebase.google.com/go/v4/auth"
)

// AdminClaim is the custom claim that grants moderation rights.
const AdminClaim = "admin"

// Identity is what the service needs from a verified ID token.
type Identity struct {
	UID   string
	Name  string
	Admin bool
}

type FirebaseAuthClient struct {
	client *auth.Client
}

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, err
	}

	return identityFromClaims(result.UID, result.Claims), nil
}

// SetAdmin grants or revokes the admin claim. It takes effect the next time
// the user's ID token is refreshed.
func (f *FirebaseAuthClient) SetAdmin(ctx context.Context, uid string, admin bool) error {
	user, err := f.client.GetUser(ctx, uid)
	if err != nil {
		return err
	}

	claims := make(map[string]interface{}, len(user.CustomClaims)+1)
	for k, v := range user.CustomClaims {
		claims[k] = v
	}
	if admin {
		claims[AdminClaim] = true
	} else {
		delete(claims, AdminClaim)
	}

	return f.client.SetCustomUserClaims(ctx, uid, claims)
}

func identityFromClaims(uid string, claims map[string]interface{}) *Identity {
	identity := &Identity{UID: uid}
	if name, ok := claims["name"].(string); ok {
		identity.Name = name
	}
	if admin, ok := claims[AdminClaim].(bool); ok {
		identity.Admin = admin
	}
	return identity
}
