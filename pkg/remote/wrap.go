package remote

import (
	"strings"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
)

const scriptPrelude = "export DEBIAN_FRONTEND=noninteractive\n"

// Wrap turns a script into the command line to run for cred, plus the bytes
// to feed on stdin. Password logins get the password through stdin for
// `sudo -S`, so it never shows up in the command line or a process listing.
func Wrap(cred cluster.AuthCredential, script string) (string, []byte) {
	body := Quote(scriptPrelude + script)
	switch {
	case cred.IsRoot():
		return "bash -c " + body, nil
	case cred.Method == cluster.AuthPassword:
		return "sudo -S -p '' bash -c " + body, []byte(cred.Password + "\n")
	default:
		return "sudo -n bash -c " + body, nil
	}
}

// Quote single-quotes s for a POSIX shell
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
