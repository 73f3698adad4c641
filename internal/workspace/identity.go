package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ContainerNamePrefix is the default container name prefix used when the
// caller does not supply --container-name.
const ContainerNamePrefix = "deacon-"

// LocalFolderLabel is the primary identity label attached to every
// container: the canonical absolute path of the workspace it belongs to.
const LocalFolderLabel = "devcontainer.local_folder"

// CanonicalJSON re-marshals a JSON document through a generic map/slice tree
// so that object keys are emitted in sorted order. This makes the hash in
// ContainerIdentityHash stable across struct field reordering or map
// iteration order.
func CanonicalJSON(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(canonicalize(v))
}

// canonicalize walks a decoded JSON value, leaving arrays and scalars as-is.
// Go's encoding/json already sorts map[string]any keys on Marshal, so simply
// round-tripping through map[string]any achieves canonical key order.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = canonicalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = canonicalize(val)
		}
		return out
	default:
		return t
	}
}

// ContainerIdentityHash computes the 8 hex char identity suffix used in the
// default container name: the first 8 hex characters of SHA-256 over the
// workspace path concatenated with the canonical configuration JSON.
func ContainerIdentityHash(workspacePath string, canonicalConfigJSON []byte) string {
	h := sha256.New()
	h.Write([]byte(workspacePath))
	h.Write(canonicalConfigJSON)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:8]
}

// DefaultContainerName returns the default container name for a workspace:
// "deacon-<hash8>" where hash8 is ContainerIdentityHash(workspacePath, canonicalConfigJSON).
func DefaultContainerName(workspacePath string, canonicalConfigJSON []byte) string {
	return ContainerNamePrefix + ContainerIdentityHash(workspacePath, canonicalConfigJSON)
}

// DevcontainerIDHash computes the ${devcontainerId} substitution value: a
// deterministic hash of the sorted set of id-labels, order-independent over
// label iteration order. Truncated to 12 hex characters, matching the
// length used elsewhere in the devcontainer ecosystem for this value.
func DevcontainerIDHash(idLabels map[string]string) string {
	keys := make([]string, 0, len(idLabels))
	for k := range idLabels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(idLabels[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}
