package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
node_id: node-1
listen_addr: 127.0.0.1:7001
data_dir: /tmp/bftraft/node-1
private_key: deadbeef
other_nodes:
  - id: node-2
    address: 127.0.0.1:7002
    public_key: aaaa
  - id: node-3
    address: 127.0.0.1:7003
    public_key: bbbb
  - id: node-4
    address: 127.0.0.1:7004
    public_key: cccc
client_public_keys:
  - id: client-1
    address: 127.0.0.1:8001
    public_key: dddd
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_DerivesQuorumSizeFromPeerCount(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	require.Equal(t, "node-1", cfg.NodeId)
	require.Len(t, cfg.OtherNodes, 3)
	require.Equal(t, 3, cfg.QuorumSize) // n=4, f=1, quorum=2f+1=3
}

func TestLoad_RejectsMissingNodeId(t *testing.T) {
	_, err := Load(writeConfig(t, `listen_addr: 127.0.0.1:7001`))
	require.Error(t, err)
}

func TestLoad_RejectsInvertedElectionTimeouts(t *testing.T) {
	cfg := sampleYAML + "\nelection_timeout_min: 500ms\nelection_timeout_max: 100ms\n"
	_, err := Load(writeConfig(t, cfg))
	require.Error(t, err)
}
