package options

import (
	"os"
	"strconv"
	"testing"

	"k8s.io/klog/v2"
)

// Tests utilizing t.Setenv cannot be run in t.Parallel().
func TestOptions_Read(t *testing.T) {
	// Define the command-line arguments.
	originalMainPortNumber := 4242
	os.Args = []string{
		"cmd",
		"--main-port", strconv.Itoa(originalMainPortNumber), // This will *not* be overridden as it was explicitly set.
	}

	// Override the --self-port flag with the TQC_SELF_PORT environment variable.
	overriddenSelfPortNumber := 5678
	t.Setenv("TQC_SELF_PORT", strconv.Itoa(overriddenSelfPortNumber))

	// Override the --namespace-pattern flag with the TQC_NAMESPACE_PATTERN environment variable.
	overriddenPattern := "staging-*"
	t.Setenv("TQC_NAMESPACE_PATTERN", overriddenPattern)

	o := NewOptions(klog.NewKlogr())
	o.Read()

	if *o.SelfPort != overriddenSelfPortNumber {
		t.Fatalf("expected %d, got %d", overriddenSelfPortNumber, *o.SelfPort)
	}
	if *o.MainPort != originalMainPortNumber {
		t.Fatalf("expected %d, got %d", originalMainPortNumber, *o.MainPort)
	}
	if *o.NamespacePattern != overriddenPattern {
		t.Fatalf("expected %q, got %q", overriddenPattern, *o.NamespacePattern)
	}
}
