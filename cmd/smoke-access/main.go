package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"kompassi.org/internal/access"
	"kompassi.org/internal/app"
	"kompassi.org/internal/config"
	"kompassi.org/internal/ids"
	"kompassi.org/internal/obs"
)

// smoke-access checks a running deployment: accessd reports SERVING over
// gRPC health, and a no-op privilege can be granted end to end.
func main() {
	logger := obs.Logger().With("service", "smoke-access")
	fatal := func(msg string, err error) {
		logger.Error(msg, "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("ACCESS_CONFIG"))
	if err != nil {
		fatal("load config", err)
	}
	addr := os.Getenv("ACCESS_SMOKE_GRPC_ADDR")
	if addr == "" {
		addr = "localhost" + cfg.GRPCAddr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fatal("dial accessd", err)
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		fatal("health check", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		fatal("health check", fmt.Errorf("accessd reports %s", resp.GetStatus()))
	}

	// Inline dispatch so the result is observable before exit.
	a, err := app.Open(ctx, cfg, app.Worker)
	if err != nil {
		fatal("open app", err)
	}
	defer a.Close()

	suffix := ids.New()
	dir := a.Store.Directory()
	group := access.Group{Name: "smoke-" + suffix}
	if err := dir.CreateGroup(ctx, &group); err != nil {
		fatal("create group", err)
	}
	person := access.Person{FirstName: "Smoke", Surname: "Test", Email: "smoke@example.invalid", UserID: "smoke-" + suffix}
	if err := dir.CreatePerson(ctx, &person); err != nil {
		fatal("create person", err)
	}
	if err := dir.AddMember(ctx, person.UserID, group.ID); err != nil {
		fatal("add member", err)
	}
	priv := access.Privilege{Slug: "smoke-" + toSlug(suffix), Title: "Smoke " + suffix, GrantCode: access.NoopGrantCode}
	if err := a.Engine.CreatePrivilege(ctx, &priv); err != nil {
		fatal("create privilege", err)
	}
	if _, err := a.Engine.BindGroup(ctx, priv.ID, group.ID, ""); err != nil {
		fatal("bind group", err)
	}

	if err := a.Engine.Grant(ctx, priv, person); err != nil {
		fatal("grant", err)
	}
	if _, err := a.Store.Grants().FindInState(ctx, priv.ID, person.ID, access.StateGranted); err != nil {
		fatal("grant not recorded", err)
	}
	left, err := a.Engine.PotentialPrivileges(ctx, person, access.PotentialFilter{})
	if err != nil {
		fatal("potential privileges", err)
	}
	if len(left) != 0 {
		fatal("potential privileges", fmt.Errorf("expected none left, got %d", len(left)))
	}

	logger.Info("smoke test passed", "privilege", priv.Slug, "person_id", person.ID)
}

func toSlug(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
