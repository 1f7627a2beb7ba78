package gepg_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestGepg(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Gepg Suite")
}
