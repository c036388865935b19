package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestClient runs a JetStream-enabled NATS server in a container for
// integration tests.
type TestClient struct {
	Client  *Client
	URL     string
	cleanup func()
}

// NewTestClient starts a NATS container and connects a Client to it.
// Accepts testing.TB so it works with both *testing.T and *testing.B.
func NewTestClient(t testing.TB) *TestClient {
	t.Helper()

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "nats:2.11.7-alpine",
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--port", "4222", "--http_port", "8222", "--js"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(30*time.Second),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get mapped port: %v", err)
	}

	url := fmt.Sprintf("nats://%s:%s", host, port.Port())
	client, err := NewClient(url, WithMaxReconnects(0), WithTimeout(5*time.Second))
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to create NATS client: %v", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to connect to NATS: %v", err)
	}

	tc := &TestClient{
		Client: client,
		URL:    url,
		cleanup: func() {
			_ = client.Close(context.Background())
			_ = container.Terminate(context.Background())
		},
	}
	t.Cleanup(tc.Terminate)
	return tc
}

// Terminate closes the client and stops the container
func (tc *TestClient) Terminate() {
	if tc.cleanup != nil {
		tc.cleanup()
		tc.cleanup = nil
	}
}
