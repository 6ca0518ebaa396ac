package main

import "github.com/ahura-cloud/kube-provisioner/cmd"

func main() {
	cmd.Execute()
}
