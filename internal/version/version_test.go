package version

import (
	"strings"
	"testing"
)

func TestFullIncludesNameAndCommit(t *testing.T) {
	full := Full()
	if !strings.HasPrefix(full, Name+" ") || !strings.Contains(full, "("+Commit+")") {
		t.Fatalf("unexpected version string: %s", full)
	}
	if UserAgent() != Name+"/"+Version {
		t.Fatalf("unexpected user agent: %s", UserAgent())
	}
}
