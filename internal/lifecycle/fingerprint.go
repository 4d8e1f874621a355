package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/verifier"
)

// Fingerprint identifies the inputs of a verifier run: world layout,
// parameters, safety spec and field order. Agent pose is not part of it.
func Fingerprint(snap statekey.Snapshot, spec verifier.SafetySpec, order statekey.FieldOrder) string {
	h := sha256.New()
	field := func(s string) {
		io.WriteString(h, s)
		h.Write([]byte{0})
	}
	field(snap.Layout)
	names := make([]string, 0, len(snap.Params))
	for k := range snap.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		field(k + "=" + snap.Params[k])
	}
	field(spec.Key())
	field(order.String())
	return hex.EncodeToString(h.Sum(nil))
}
