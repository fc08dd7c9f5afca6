//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"

	"github.com/ligustah/gridfetch/internal/catalog"
)

// TestFile is a file published by a DataNode.
type TestFile struct {
	Name string
	Data []byte
}

// GenerateTestData returns size bytes of a deterministic pattern.
func GenerateTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// DataNode is an HTTP server that publishes files with range support, the
// way a grid data node does.
type DataNode struct {
	*httptest.Server

	mu     sync.Mutex
	files  map[string][]byte
	ranges []string
}

// StartDataNode serves files under /thredds/fileServer/<name>.
func StartDataNode(t *testing.T, files ...TestFile) *DataNode {
	t.Helper()
	n := &DataNode{files: make(map[string][]byte, len(files))}
	for _, f := range files {
		n.files[f.Name] = f.Data
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.Close)
	return n
}

func (n *DataNode) serve(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/thredds/fileServer/")
	n.mu.Lock()
	data, ok := n.files[name]
	if rng := r.Header.Get("Range"); rng != "" {
		n.ranges = append(n.ranges, rng)
	}
	n.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("ETag", fmt.Sprintf(`"%s"`, name))
	http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
}

// URL returns the download URL of the named file.
func (n *DataNode) URL(name string) string {
	return n.Server.URL + "/thredds/fileServer/" + name
}

// Ranges returns the Range headers received so far.
func (n *DataNode) Ranges() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ranges...)
}

// Dataset builds a catalog record for files published by n, with SHA256
// checksums.
func (n *DataNode) Dataset(id string, metadata map[string]string, files ...TestFile) *catalog.Dataset {
	d := &catalog.Dataset{InstanceID: id, Metadata: metadata}
	for _, f := range files {
		sum := sha256.Sum256(f.Data)
		d.Files = append(d.Files, catalog.File{
			InstanceID:   f.Name,
			Size:         int64(len(f.Data)),
			Checksum:     hex.EncodeToString(sum[:]),
			ChecksumType: "SHA256",
			Replicas: []catalog.Replica{{
				DataNode: strings.TrimPrefix(n.Server.URL, "http://"),
				Services: map[catalog.ServiceKind]string{catalog.ServiceHTTP: n.URL(f.Name)},
			}},
		})
	}
	return d
}

// MinioEnv contains connection information for a Minio test environment.
type MinioEnv struct {
	Container testcontainers.Container
	BucketURL string
	Endpoint  string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// OpenBucket opens a gocloud bucket connection to the Minio environment.
func (e *MinioEnv) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL)
}

// StartMinioContainer starts a Minio container with a pre-created bucket.
func StartMinioContainer(t *testing.T, ctx context.Context, bucketName string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	networkName := fmt.Sprintf("gridfetch-test-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: networkName},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          "minio/minio:latest",
			ExposedPorts:   []string{"9000/tcp"},
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"minio"}},
			Env: map[string]string{
				"MINIO_ROOT_USER":     accessKey,
				"MINIO_ROOT_PASSWORD": secretKey,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	createBucket(t, ctx, networkName, accessKey, secretKey, bucketName)

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}
	endpoint := fmt.Sprintf("%s:%s", host, port.Port())

	// gocloud's s3blob reads credentials from the environment.
	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)

	return &MinioEnv{
		Container: container,
		BucketURL: fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
			bucketName, endpoint),
		Endpoint: endpoint,
	}
}

// createBucket runs a one-shot minio/mc container that creates bucketName.
func createBucket(t *testing.T, ctx context.Context, networkName, accessKey, secretKey, bucketName string) {
	t.Helper()

	mc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "minio/mc:latest",
			Networks:   []string{networkName},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd: []string{fmt.Sprintf(
				"/usr/bin/mc alias set gridfetch http://minio:9000 %s %s && /usr/bin/mc mb gridfetch/%s; exit 0",
				accessKey, secretKey, bucketName,
			)},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mc.Terminate(ctx)
}
