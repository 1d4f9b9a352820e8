package monitor

import (
	"os"
	"testing"

	"github.com/polygate/polygate/common/client"
)

func TestMain(m *testing.M) {
	client.Init()
	os.Exit(m.Run())
}
