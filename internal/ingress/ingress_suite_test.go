//go:build integration

package ingress

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestIngressBehavior(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ingress Behavior Suite")
}
