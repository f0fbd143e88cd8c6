//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	pconfig "github.com/choocapi/ecommerce-backend/internal/platform/config"
	pfirestore "github.com/choocapi/ecommerce-backend/internal/platform/firestore"
	"github.com/choocapi/ecommerce-backend/internal/repositories"
	firestorerepo "github.com/choocapi/ecommerce-backend/internal/repositories/firestore"
)

const stockEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type stockSeed struct {
	ProductID string    `firestore:"productId"`
	OnHand    int       `firestore:"onHand"`
	Reserved  int       `firestore:"reserved"`
	Available int       `firestore:"available"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func TestStockRepositoryAdjustIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureStockDockerDaemon(t)

	port := freeStockPort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startStockEmulator(t, port)
	defer stopStockContainer(containerID)

	waitForStockEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "test-project",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	seeds := pfirestore.NewBaseRepository[stockSeed](provider, "productStocks", nil, nil)
	now := time.Now().UTC()
	for _, seed := range []stockSeed{
		{ProductID: "prod-a", OnHand: 10, Reserved: 0, Available: 10, UpdatedAt: now},
		{ProductID: "prod-b", OnHand: 3, Reserved: 0, Available: 3, UpdatedAt: now},
	} {
		if _, err := seeds.Set(ctx, seed.ProductID, seed); err != nil {
			t.Fatalf("seed %s: %v", seed.ProductID, err)
		}
	}

	repo, err := firestorerepo.NewStockRepository(provider)
	if err != nil {
		t.Fatalf("NewStockRepository returned error: %v", err)
	}

	// A reserve spanning two products must commit both lines in one transaction.
	result, err := repo.Adjust(ctx, repositories.StockAdjustRequest{
		Op: repositories.StockOpReserve,
		Lines: []repositories.StockLine{
			{ProductID: "prod-a", Quantity: 4},
			{ProductID: "prod-b", Quantity: 2},
		},
		Now: now,
	})
	if err != nil {
		t.Fatalf("multi-product reserve failed: %v", err)
	}
	if got := result.Stocks["prod-a"]; got.Reserved != 4 || got.Available != 6 {
		t.Fatalf("unexpected prod-a state: %+v", got)
	}
	if got := result.Stocks["prod-b"]; got.Reserved != 2 || got.Available != 1 {
		t.Fatalf("unexpected prod-b state: %+v", got)
	}

	// When one line cannot be satisfied the whole adjustment must roll back.
	_, err = repo.Adjust(ctx, repositories.StockAdjustRequest{
		Op: repositories.StockOpReserve,
		Lines: []repositories.StockLine{
			{ProductID: "prod-a", Quantity: 1},
			{ProductID: "prod-b", Quantity: 5},
		},
		Now: now,
	})
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInsufficientStock {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	afterA, err := repo.Get(ctx, "prod-a")
	if err != nil {
		t.Fatalf("get prod-a: %v", err)
	}
	if afterA.Reserved != 4 {
		t.Fatalf("expected prod-a reservation unchanged at 4, got %d", afterA.Reserved)
	}

	// Duplicate lines for one product aggregate into a single write.
	result, err = repo.Adjust(ctx, repositories.StockAdjustRequest{
		Op: repositories.StockOpRelease,
		Lines: []repositories.StockLine{
			{ProductID: "prod-a", Quantity: 1},
			{ProductID: "prod-a", Quantity: 3},
		},
		Now: now,
	})
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if got := result.Stocks["prod-a"]; got.Reserved != 0 || got.Available != 10 {
		t.Fatalf("unexpected prod-a state after release: %+v", got)
	}

	_, err = repo.Adjust(ctx, repositories.StockAdjustRequest{
		Op:    repositories.StockOpReserve,
		Lines: []repositories.StockLine{{ProductID: "prod-missing", Quantity: 1}},
		Now:   now,
	})
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func freeStockPort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startStockEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		stockEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func stopStockContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForStockEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for endpoint")
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}

func ensureStockDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}
