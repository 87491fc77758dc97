// seed inserts development data: two users and a demo session hosted by the first. When
// JWT_PRIVATE_KEY is set it also prints an access token per user for cmd/peer.
// Idempotent: users are upserted and the demo session is only created when the host has none active.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"collab-sync/backend/internal/config"
	"collab-sync/backend/internal/db"
	"collab-sync/backend/internal/db/migrate"
	"collab-sync/backend/internal/security"
	"collab-sync/backend/internal/session/domain"
	sessionrepo "collab-sync/backend/internal/session/repository"
	"collab-sync/backend/internal/session/service"
	userdomain "collab-sync/backend/internal/user/domain"
	userrepo "collab-sync/backend/internal/user/repository"
)

const demoSessionName = "Demo session"

const demoCode = `package main

import "fmt"

func main() {
	fmt.Println("hello, collaborators")
}
`

var devUsers = []*userdomain.User{
	{ID: "dev-user-001", Email: "dev@example.com", FirstName: "Grace", LastName: "Hopper"},
	{ID: "dev-user-002", Email: "member@example.com", FirstName: "Ada", LastName: "Lovelace"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if err := migrate.Run(cfg.DatabaseURL, migrate.Up); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	conn, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{MaxOpenConns: 2})
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	now := time.Now().UTC()
	for _, u := range devUsers {
		u.CreatedAt, u.UpdatedAt = now, now
		if err := users.Upsert(ctx, u); err != nil {
			log.Fatalf("upsert user %s: %v", u.Email, err)
		}
		log.Printf("seed: user %s (%s)", u.ID, u.Email)
	}

	store := service.NewStore(sessionrepo.NewPostgresRepository(conn), service.WithUsers(users))
	host := devUsers[0]
	sess, err := findDemoSession(ctx, store, host.ID)
	if err != nil {
		log.Fatalf("list sessions: %v", err)
	}
	if sess == nil {
		sess, err = store.CreateSession(ctx, domain.Meta{Name: demoSessionName, Language: "go", Code: demoCode}, host.ID)
		if err != nil {
			log.Fatalf("create session: %v", err)
		}
		log.Printf("seed: created session %s", sess.ID)
	} else {
		log.Printf("seed: session %s already exists", sess.ID)
	}

	if cfg.JWTPrivateKey == "" {
		log.Println("seed: JWT_PRIVATE_KEY not set; skipping dev tokens")
		return
	}
	issuer, err := security.NewIssuerFromPEM(cfg.JWTPrivateKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	if err != nil {
		log.Fatalf("jwt issuer: %v", err)
	}
	for _, u := range devUsers {
		token, exp, err := issuer.Issue(security.Identity{UserID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName})
		if err != nil {
			log.Fatalf("issue token for %s: %v", u.Email, err)
		}
		fmt.Printf("%s token (expires %s):\n%s\n\n", u.Email, exp.Format(time.RFC3339), token)
	}
	fmt.Printf("join with: peer join --session %s --token <token>\n", sess.ID)
}

func findDemoSession(ctx context.Context, store *service.Store, hostID string) (*domain.Session, error) {
	list, err := store.ListActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range list {
		if s.HostID == hostID && s.Name == demoSessionName {
			return s, nil
		}
	}
	return nil, nil
}
