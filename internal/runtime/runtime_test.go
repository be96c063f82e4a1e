package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/tidalhq/tidal/internal/config"
	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/fault"
	"github.com/tidalhq/tidal/internal/identity"
	pebblestore "github.com/tidalhq/tidal/internal/storage/pebble"
	"github.com/tidalhq/tidal/pkg/log"
)

func openTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	rt, err := Open(context.Background(), Options{Config: cfg, Logger: log.NewTestLogger()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestOpenAndHealth(t *testing.T) {
	rt := openTestRuntime(t)
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rt.Store() == nil || rt.Dispatcher() == nil || rt.Identity() == nil {
		t.Fatal("incomplete wiring")
	}
}

func TestParseFsync(t *testing.T) {
	cases := map[string]pebblestore.FsyncMode{
		"":         pebblestore.FsyncModeInterval,
		"interval": pebblestore.FsyncModeInterval,
		"always":   pebblestore.FsyncModeAlways,
		"never":    pebblestore.FsyncModeNever,
	}
	for in, want := range cases {
		got, err := ParseFsync(in)
		if err != nil || got != want {
			t.Fatalf("ParseFsync(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFsync("sometimes"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestSuspensionRearmedFromIdentity(t *testing.T) {
	ctx := context.Background()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"

	rt, err := Open(ctx, Options{Config: cfg, Logger: log.NewTestLogger()})
	if err != nil {
		t.Fatal(err)
	}
	tn, err := rt.Identity().CreateTenant(ctx, identity.Tenant{Name: "acme", Status: identity.StatusSuspended})
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Close(); err != nil {
		t.Fatal(err)
	}

	rt2, err := Open(ctx, Options{Config: cfg, Logger: log.NewTestLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer rt2.Close()

	scope := event.Scope{Tenant: tn.ID, Project: "prod"}
	if _, err := rt2.Manager().Admit(scope, 0); fault.KindOf(err) != fault.TenantSuspended {
		t.Fatalf("err = %v, want tenant_suspended", err)
	}
}
