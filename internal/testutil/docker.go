//go:build integration
// +build integration

package testutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	dockerpkg "github.com/dyluth/hitmap/internal/docker"
	"github.com/stretchr/testify/require"
)

// TestImage is a small image with a shell, used to stand in for the tool image.
const TestImage = "busybox:1.36"

// DockerEnvironment is an isolated scratch directory plus a daemon connection
// for tests that run real tool containers.
type DockerEnvironment struct {
	T      *testing.T
	Ctx    context.Context
	Client *client.Client
	TmpDir string
}

// SetupDockerEnvironment connects to the daemon, pulls TestImage and creates a
// scratch directory that can be bind-mounted.
func SetupDockerEnvironment(t *testing.T) *DockerEnvironment {
	ctx := context.Background()

	cli, err := dockerpkg.NewClient(ctx)
	require.NoError(t, err, "Docker daemon must be running for integration tests")
	t.Cleanup(func() { cli.Close() })

	// Bind mounts need the real path (macOS puts temp dirs behind a symlink)
	tmpDir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	env := &DockerEnvironment{T: t, Ctx: ctx, Client: cli, TmpDir: tmpDir}
	env.pullImage()
	return env
}

func (env *DockerEnvironment) pullImage() {
	rc, err := env.Client.ImagePull(env.Ctx, TestImage, types.ImagePullOptions{})
	require.NoError(env.T, err, "Failed to pull %s", TestImage)
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	require.NoError(env.T, err)
}

// HostUser returns uid:gid of the test process so that files written by
// containers can be cleaned up by the test.
func HostUser() string {
	return fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())
}

// ContainersForRun lists every container, running or not, labelled with runID.
func (env *DockerEnvironment) ContainersForRun(runID string) []types.Container {
	f := filters.NewArgs()
	f.Add("label", dockerpkg.LabelRunID+"="+runID)

	containers, err := env.Client.ContainerList(env.Ctx, container.ListOptions{
		All:     true,
		Filters: f,
	})
	require.NoError(env.T, err)
	return containers
}

// VerifyFileContent checks that a file exists with the expected content.
func (env *DockerEnvironment) VerifyFileContent(path, expected string) {
	content, err := os.ReadFile(path)
	require.NoError(env.T, err, "Failed to read %s", path)
	require.Equal(env.T, expected, string(content), "File content mismatch in %s", path)
}
