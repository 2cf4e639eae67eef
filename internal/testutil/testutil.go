/*
Package testutil holds helpers shared by tests that bring up real
exchanges on the loopback interface.
*/
package testutil

import (
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/mxhub/mx/pkg/config"
)

// FreeExchangeName returns an exchange name whose derived master port
// is currently free to listen on, so a test master can bind it.
func FreeExchangeName(t *testing.T) string {
	t.Helper()
	for i := 0; i < 1000; i++ {
		name := fmt.Sprintf("mx-test-%d-%d", os.Getpid(), i)
		port := config.EffectivePort(name)
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		l.Close()
		return name
	}
	t.Fatal("no exchange name with a free port found")
	return ""
}
