package domain

import (
	"testing"

	"warrantycore/testutil"
)

// TestDomainImportsStandardLibraryOnly keeps the lifecycle model free of
// storage, transport and third-party packages so every adapter can share it.
func TestDomainImportsStandardLibraryOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.NonStandardImport, "domain depends on the standard library only")
}
