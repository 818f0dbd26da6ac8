package main

import "github.com/oshokin/mathworks-packager/cmd/mwpkg-sync/cmd"

func main() {
	cmd.Execute()
}
