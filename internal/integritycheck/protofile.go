// Package integritycheck compares two destination trees byte-for-byte using
// google/fswalker, confirming a repeated backup run is idempotent: a second
// RECONCILE pass over an already-verified destination produces the identical
// tree rather than rewriting files unnecessarily (§8's idempotence property,
// adapted from the teacher's tests/tools/fswalker wrapper).
package integritycheck

import (
	"bytes"
	"os"

	"github.com/golang/protobuf/proto" //nolint:staticcheck
	"google.golang.org/protobuf/encoding/prototext"
)

func writeTextProto(path string, pb proto.Message) error {
	blob, err := prototext.Marshal(proto.MessageV2(pb))
	if err != nil {
		return err
	}

	blob = bytes.ReplaceAll(blob, []byte("<"), []byte("{"))
	blob = bytes.ReplaceAll(blob, []byte(">"), []byte("}"))

	return os.WriteFile(path, blob, 0o644) //nolint:gosec
}
