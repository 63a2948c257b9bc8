// Package firestoretest starts a throwaway Firestore emulator for integration tests.
package firestoretest

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mercado-field/api/internal/platform/config"
	pfirestore "github.com/mercado-field/api/internal/platform/firestore"
)

const (
	emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	emulatorPort  = "8080/tcp"
)

// NewProvider runs the emulator in a container and returns a provider bound to it. The test is skipped
// when no container runtime is reachable; the container and provider are released on cleanup.
func NewProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	emulator, err := testcontainers.Run(ctx, emulatorImage,
		testcontainers.WithExposedPorts(emulatorPort),
		testcontainers.WithCmd("gcloud", "beta", "emulators", "firestore", "start",
			"--host-port=0.0.0.0:8080", "--project="+projectID, "--quiet"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Dev App Server is now running").WithStartupTimeout(90*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, emulator)
	if err != nil {
		t.Fatalf("start firestore emulator: %v", err)
	}

	endpoint, err := emulator.PortEndpoint(ctx, emulatorPort, "")
	if err != nil {
		t.Fatalf("resolve emulator endpoint: %v", err)
	}

	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}
